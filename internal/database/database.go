// Package database opens the Postgres store and keeps its schema current.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/bondsnbeyond/internal/models"
)

// Open connects to dsn, creating the database on first boot, and migrates it.
func Open(ctx context.Context, dsn string, production bool) (*gorm.DB, error) {
	if err := createIfMissing(ctx, dsn); err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}

	level := logger.Info
	if production {
		level = logger.Warn
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := Migrate(conn.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// Migrate creates or updates every table.
func Migrate(conn *gorm.DB) error {
	for _, model := range models.All() {
		if err := conn.AutoMigrate(model); err != nil {
			return fmt.Errorf("%T: %w", model, err)
		}
	}
	return nil
}

// maintenanceTarget splits a postgres URL into the URL of the server's
// maintenance database and the name of the database it points at.
// Key/value DSNs and URLs without a database name yield ok == false.
func maintenanceTarget(dsn string) (maintenance, name string, ok bool, err error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return "", "", false, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", false, err
	}
	name = strings.TrimPrefix(u.Path, "/")
	if name == "" || name == "postgres" {
		return "", "", false, nil
	}
	u.Path = "/postgres"
	return u.String(), name, true, nil
}

func createIfMissing(ctx context.Context, dsn string) error {
	maintenance, name, ok, err := maintenanceTarget(dsn)
	if err != nil || !ok {
		return err
	}

	admin, err := sql.Open("postgres", maintenance)
	if err != nil {
		return err
	}
	defer admin.Close()

	var exists bool
	err = admin.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil || exists {
		return err
	}

	log.Printf("[DB] creating database %s", name)
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	return err
}
