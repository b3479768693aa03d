package db

import (
	"database/sql"
	"fmt"
)

// GetDocument returns the stored JSON body. A missing document wraps sql.ErrNoRows.
func GetDocument(db *sql.DB, name string) (string, error) {
	var body string
	err := db.QueryRow(`SELECT body FROM documents WHERE name = ?`, name).Scan(&body)
	if err != nil {
		return "", fmt.Errorf("failed to get document %s: %w", name, err)
	}
	return body, nil
}
