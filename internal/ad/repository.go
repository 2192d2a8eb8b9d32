package ad

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"market-chat/internal/chat"
)

// ErrNotFound matches chat.ErrAdNotFound so the authorizer can tell a missing
// ad from an unreachable database.
var ErrNotFound = fmt.Errorf("ads: %w", chat.ErrAdNotFound)

// Repository reads the marketplace's ads table. It only answers ownership
// questions; ads are created and edited by the marketplace itself.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) PublisherOf(ctx context.Context, adID int64) (int64, error) {
	var publisherID int64
	err := r.db.QueryRowContext(ctx, "SELECT publisher_id FROM ads WHERE id = $1", adID).Scan(&publisherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return publisherID, nil
}

// Create is used by fixtures.
func (r *Repository) Create(ctx context.Context, publisherID int64, title string) (int64, error) {
	var id int64
	query := "INSERT INTO ads (publisher_id, title) VALUES ($1, $2) RETURNING id"
	if err := r.db.QueryRowContext(ctx, query, publisherID, title).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
