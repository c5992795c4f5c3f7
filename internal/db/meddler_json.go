package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for JSON-encoded payload columns.
	// Unlike meddler's builtin json meddler this one tolerates NULL columns.
	meddler.Register("payload", JSONMeddler{})
}

// JSONMeddler stores arbitrary Go values as JSON text columns. It is used
// for decoded event payloads, which carry a variable field set per event.
type JSONMeddler struct{}

func (j JSONMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (j JSONMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	if !ns.Valid || ns.String == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(ns.String), fieldAddr); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}

	return nil
}

func (j JSONMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	if field == nil {
		return nil, nil
	}

	data, err := json.Marshal(field)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON column: %w", err)
	}

	return string(data), nil
}
