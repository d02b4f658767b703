// Package database opens the postgres database backing the reply cache and
// keeps its schema up to date.
package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Repo struct {
	db *sql.DB
}

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) Close() error {
	return r.db.Close()
}

// New connects to the database and runs the pending migrations. Queries are
// traced with the global tracer provider.
func New(dbConnDSN string, maxIdle, maxOpen int) (*Repo, error) {
	db, err := otelsql.Open("postgres", dbConnDSN,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	db.SetMaxIdleConns(maxIdle)
	db.SetMaxOpenConns(maxOpen)

	err = Migrate(db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Repo{
		db: db,
	}, nil
}

func Migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	err := goose.SetDialect("postgres")
	if err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	err = goose.Up(db, "migrations")
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
