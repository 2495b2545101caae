// Package recordstore persists the canonical record set between runs
// so successive harvests can be compared.
package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"consoleharvest/lib/scrapers/console"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAll upserts the whole canonical set in one transaction. records
// absent from this run keep their previous row.
func (s *Store) SaveAll(
	ctx context.Context,
	records []console.EntityRecord,
	enrichment map[string]console.EnrichmentResult,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (identity_key, attributes, enrichment, enrichment_defaulted, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (identity_key) DO UPDATE SET
			attributes = excluded.attributes,
			enrichment = excluded.enrichment,
			enrichment_defaulted = excluded.enrichment_defaulted,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, record := range records {
		attrs, err := json.Marshal(record.Attributes)
		if err != nil {
			return err
		}

		var payload []byte
		defaulted := 0
		if result, ok := enrichment[record.IdentityKey]; ok {
			payload = result.Payload
			if result.Defaulted {
				defaulted = 1
			}
		}

		_, err = stmt.ExecContext(ctx, record.IdentityKey, string(attrs), string(payload), defaulted, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadAll returns every stored record, ordered by identity key.
func (s *Store) LoadAll(ctx context.Context) ([]console.EntityRecord, map[string]console.EnrichmentResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_key, attributes, enrichment, enrichment_defaulted
		FROM records ORDER BY identity_key
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var records []console.EntityRecord
	enrichment := map[string]console.EnrichmentResult{}

	for rows.Next() {
		var key, attrs string
		var payload sql.NullString
		var defaulted int
		err := rows.Scan(&key, &attrs, &payload, &defaulted)
		if err != nil {
			return nil, nil, err
		}

		record := console.EntityRecord{IdentityKey: key}
		err = json.Unmarshal([]byte(attrs), &record.Attributes)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, record)

		result := console.EnrichmentResult{
			IdentityKey: key,
			Defaulted:   defaulted != 0,
		}
		if payload.Valid && payload.String != "" {
			result.Payload = json.RawMessage(payload.String)
		}
		enrichment[key] = result
	}

	return records, enrichment, rows.Err()
}
