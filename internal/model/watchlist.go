package model

import "time"

// WatchlistEntry links one user to one movie. (UserID, MovieID) is unique.
type WatchlistEntry struct {
	ID        string    `json:"id"        db:"id"` // xid
	UserID    string    `json:"userId"    db:"user_id"`
	MovieID   int64     `json:"movieId"   db:"movie_id"`
	Watched   bool      `json:"watched"   db:"watched"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Movie is populated by list queries that join the movies table.
	Movie *Movie `json:"movie,omitempty"`
}
