package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayusman/facefinder/internal/facefinder"
)

const paramsKey = "finder.params"

// SettingsRepository stores key-value application settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Set stores value under key.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// SaveParams persists the finder tunables.
func (r *SettingsRepository) SaveParams(p facefinder.Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return r.Set(paramsKey, string(data))
}

// LoadParams returns the persisted tunables layered over base.
func (r *SettingsRepository) LoadParams(base facefinder.Params) (facefinder.Params, error) {
	value, err := r.Get(paramsKey)
	if err != nil {
		return base, err
	}
	p := base
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return base, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}
