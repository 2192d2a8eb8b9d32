package ad

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"market-chat/internal/db"
)

func TestRepository_PublisherOf(t *testing.T) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	req := require.New(t)
	ctx := context.Background()

	database, err := db.NewDatabase(dsn)
	req.NoError(err)
	defer database.Close()
	req.NoError(database.AutoMigrate(ctx))

	var publisherID int64
	err = database.Conn.QueryRowContext(ctx,
		"INSERT INTO users (username, password, role) VALUES ($1, 'x', 'publisher') RETURNING id",
		"p_"+uuid.NewString()[:8]).Scan(&publisherID)
	req.NoError(err)

	repo := NewRepository(database.Conn)
	adID, err := repo.Create(ctx, publisherID, "Peugeot 208, 2019")
	req.NoError(err)

	got, err := repo.PublisherOf(ctx, adID)
	req.NoError(err)
	req.Equal(publisherID, got)

	_, err = repo.PublisherOf(ctx, -1)
	req.ErrorIs(err, ErrNotFound)
}
