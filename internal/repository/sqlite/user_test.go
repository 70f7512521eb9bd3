package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/movie-watchlist/internal/apperror"
	"github.com/sakif/movie-watchlist/internal/model"
)

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, username, email string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$04$notarealhashbutlongenoughforthecolumn",
	}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	db := newTestDB(t)

	user := createTestUser(t, db, "alice", "a@x.com")

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice", "a@x.com")

	err := db.Create(context.Background(), &model.User{
		Username: "alice2", Email: "a@x.com", PasswordHash: "h",
	})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Field != "email" {
		t.Errorf("conflict Field = %q, want %q", appErr.Field, "email")
	}
}

func TestUserCreate_DuplicateUsernameIgnoresCase(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice", "a@x.com")

	err := db.Create(context.Background(), &model.User{
		Username: "ALICE", Email: "other@x.com", PasswordHash: "h",
	})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Field != "username" {
		t.Errorf("conflict Field = %q, want %q", appErr.Field, "username")
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestGetByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "alice", "a@x.com")

	got, err := db.GetByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
	if got.PasswordHash != created.PasswordHash {
		t.Error("GetByEmail() must load the password hash for verification")
	}
}

func TestGetByEmail_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByEmail(context.Background(), "nobody@x.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrNotFound", err)
	}
}

func TestExists(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice", "a@x.com")
	ctx := context.Background()

	tests := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{"email present", func() (bool, error) { return db.ExistsByEmail(ctx, "a@x.com") }, true},
		{"email absent", func() (bool, error) { return db.ExistsByEmail(ctx, "b@x.com") }, false},
		{"username present", func() (bool, error) { return db.ExistsByUsername(ctx, "alice") }, true},
		{"username other case", func() (bool, error) { return db.ExistsByUsername(ctx, "Alice") }, true},
		{"username absent", func() (bool, error) { return db.ExistsByUsername(ctx, "bob") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
