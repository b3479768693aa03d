package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/store"
)

const (
	SettingsDocument  = "settings"
	SchedulesDocument = "schedules"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// Open connects to the SQLite file at dbPath and applies the schema.
func Open(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer keeps read-modify-write of a document serialised
	conn.SetMaxOpenConns(1)

	if err := ApplySchema(conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().Str("path", dbPath).Msg("Database opened")
	return conn, nil
}

func ApplySchema(conn *sql.DB) error {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DocumentStore persists settings and schedules as whole JSON documents, one row each.
type DocumentStore struct {
	conn *sql.DB
}

func NewDocumentStore(conn *sql.DB) *DocumentStore {
	return &DocumentStore{conn: conn}
}

func (s *DocumentStore) LoadSettings() (*model.Settings, error) {
	var settings model.Settings
	if err := s.load(SettingsDocument, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *DocumentStore) SaveSettings(settings *model.Settings) error {
	return PutDocument(s.conn, SettingsDocument, marshalJSON(settings))
}

func (s *DocumentStore) LoadSchedules() ([]model.ScheduleEntry, error) {
	var entries []model.ScheduleEntry
	if err := s.load(SchedulesDocument, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *DocumentStore) SaveSchedules(entries []model.ScheduleEntry) error {
	if entries == nil {
		entries = []model.ScheduleEntry{}
	}
	return PutDocument(s.conn, SchedulesDocument, marshalJSON(entries))
}

func (s *DocumentStore) load(name string, v any) error {
	body, err := GetDocument(s.conn, name)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode %s document: %w", name, err)
	}
	return nil
}

func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
