package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the tables the chat service reads and writes.
// users and ads belong to the marketplace; they are only created when missing
// so the service can run against an empty database.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            role VARCHAR(10) NOT NULL CHECK (role IN ('publisher', 'client', 'admin')) DEFAULT 'client',
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS ads (
            id BIGSERIAL PRIMARY KEY,
            publisher_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            title VARCHAR(200) NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS chat_rooms (
            key VARCHAR(100) PRIMARY KEY,
            kind VARCHAR(10) NOT NULL CHECK (kind IN ('ad', 'support')),
            ad_id BIGINT,
            publisher_id BIGINT NOT NULL,
            client_id BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        )`,

		`CREATE TABLE IF NOT EXISTS chat_messages (
            id BIGSERIAL PRIMARY KEY,
            room_key VARCHAR(100) NOT NULL REFERENCES chat_rooms(key),
            sender_id BIGINT NOT NULL,
            sender_name VARCHAR(50) NOT NULL,
            sender_role VARCHAR(10) NOT NULL,
            body TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        )`,

		`CREATE INDEX IF NOT EXISTS chat_messages_room_idx ON chat_messages (room_key, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS chat_rooms_publisher_idx ON chat_rooms (publisher_id)`,
		`CREATE INDEX IF NOT EXISTS chat_rooms_client_idx ON chat_rooms (client_id)`,
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
