package auditlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
)

// SQLiteStore keeps records in a single "logs" table.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps appends ordered by id
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ApplyMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// ApplyMigrations creates the tables needed by the store.
func (s *SQLiteStore) ApplyMigrations() error {
	// 001 - logs table
	stmt := `CREATE TABLE IF NOT EXISTS "logs" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "date" TEXT NOT NULL, "ip" TEXT NOT NULL, "device" TEXT NOT NULL, "action" TEXT NOT NULL, "image_link" TEXT NOT NULL DEFAULT '')`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create initial schema: %w", err)
	}

	// 002 - picture detail lookups
	stmt = `CREATE INDEX IF NOT EXISTS "logs_image_link" ON "logs" ("image_link")`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create image link index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO logs (date, ip, device, action, image_link) VALUES (:date, :ip, :device, :action, :image_link)`, r)
	if err != nil {
		return fmt.Errorf("insert log record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context) ([]Record, error) {
	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, `SELECT date, ip, device, action, image_link FROM logs ORDER BY id DESC`); err != nil {
		return nil, fmt.Errorf("select log records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) FindByImageLink(ctx context.Context, link string) ([]Record, error) {
	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, `SELECT date, ip, device, action, image_link FROM logs WHERE image_link = ? ORDER BY id ASC`, link); err != nil {
		return nil, fmt.Errorf("select log records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
