package models

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps named models in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and creates the schema if needed.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS model_configs (
			name TEXT PRIMARY KEY,
			provider TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutModel inserts or replaces a named model.
func (s *SQLiteStore) PutModel(ctx context.Context, name string, m NamedModel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_configs (name, provider, base_url, api_key, model, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			provider = excluded.provider,
			base_url = excluded.base_url,
			api_key = excluded.api_key,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`, name, m.Provider, m.BaseURL, m.APIKey, m.Model)
	if err != nil {
		return errors.Wrapf(err, "put model %s", name)
	}
	return nil
}

// GetModel implements Lookup.
func (s *SQLiteStore) GetModel(ctx context.Context, name string) (NamedModel, bool, error) {
	var m NamedModel
	err := s.db.QueryRowContext(ctx, `
		SELECT provider, base_url, api_key, model FROM model_configs WHERE name = ?
	`, name).Scan(&m.Provider, &m.BaseURL, &m.APIKey, &m.Model)
	if err == sql.ErrNoRows {
		return NamedModel{}, false, nil
	}
	if err != nil {
		return NamedModel{}, false, errors.Wrapf(err, "get model %s", name)
	}
	return m, true, nil
}

// ListModels returns the stored model names in order.
func (s *SQLiteStore) ListModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM model_configs ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list models")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteModel removes a named model. It reports whether a row was deleted.
func (s *SQLiteStore) DeleteModel(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_configs WHERE name = ?`, name)
	if err != nil {
		return false, errors.Wrapf(err, "delete model %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ImportCatalog copies every model of c into the store.
func (s *SQLiteStore) ImportCatalog(ctx context.Context, c *Catalog) error {
	for _, name := range c.Names() {
		m, _, _ := c.GetModel(ctx, name)
		if err := s.PutModel(ctx, name, m); err != nil {
			return err
		}
	}
	return nil
}
