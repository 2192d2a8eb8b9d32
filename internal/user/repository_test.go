package user

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"market-chat/internal/db"
)

func TestRepository_Postgres(t *testing.T) {
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

	repo := NewRepository(database.Conn)
	name := "u_" + uuid.NewString()[:8]

	created, err := repo.CreateUser(ctx, &User{Username: name, Password: "hash", Role: "client"})
	req.NoError(err)
	req.NotZero(created.ID)

	_, err = repo.CreateUser(ctx, &User{Username: name, Password: "hash", Role: "client"})
	req.ErrorIs(err, ErrUsernameTaken)

	found, err := repo.GetUserByUsername(ctx, name)
	req.NoError(err)
	req.Equal(created.ID, found.ID)
	req.Equal("client", found.Role)

	_, err = repo.GetUserByUsername(ctx, name+"_missing")
	req.ErrorIs(err, ErrNotFound)

	users, err := repo.SearchUsers(ctx, name)
	req.NoError(err)
	req.Len(users, 1)
}
