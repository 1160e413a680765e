package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ConnectionSettings holds the Postgres connection parameters.
type ConnectionSettings struct {
	User     string
	Password string
	Host     string
	DB       string
}

func (c ConnectionSettings) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.DB)
}

// Connect opens and pings the database.
func Connect(settings ConnectionSettings) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", settings.dsn())
	if err != nil {
		return nil, fmt.Errorf("database connect: %w", err)
	}
	return db, nil
}
