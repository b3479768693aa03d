package db

import (
	"database/sql"
	"fmt"
	"time"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// PutDocument replaces the whole document body.
func PutDocument(db *sql.DB, name, body string) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := PutDocumentWithTx(tx, name, body); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func PutDocumentWithTx(tx *sql.Tx, name, body string) error {
	_, err := tx.Exec(`INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		name, body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put document %s: %w", name, err)
	}
	return nil
}
