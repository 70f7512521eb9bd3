package model

import "time"

// Movie is a locally cached copy of a catalog entry.
//
// ID is the catalog provider's id, never generated here, so the cache and the
// provider always agree on identity. Rows are created lazily the first time
// any user adds the movie to a watchlist.
type Movie struct {
	ID          int64     `json:"id"           db:"id"`
	Title       string    `json:"title"        db:"title"`
	PosterPath  string    `json:"poster_path"  db:"poster_path"`
	ReleaseDate string    `json:"release_date" db:"release_date"` // provider format, e.g. "1999-10-15"
	Overview    string    `json:"overview"     db:"overview"`
	CreatedAt   time.Time `json:"createdAt"    db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"    db:"updated_at"`
}
