package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CatalogRecord is one imported catalog document.
type CatalogRecord struct {
	ID        int64
	Source    string
	Document  []byte
	Checksum  string
	Operators int
	Datasets  int
	Fields    int
	CreatedAt int64
}

// CatalogRepo handles persistence for imported catalog documents.
type CatalogRepo struct{}

// SaveTx inserts a catalog document within an existing transaction.
func (r *CatalogRepo) SaveTx(ctx context.Context, tx *sql.Tx, rec CatalogRecord) (int64, error) {
	const q = `INSERT INTO catalog_snapshots (source, document, checksum, operators, datasets, fields, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		rec.Source,
		rec.Document,
		rec.Checksum,
		rec.Operators,
		rec.Datasets,
		rec.Fields,
		rec.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("save catalog: %w", err)
	}
	return res.LastInsertId()
}

// GetLatest returns the most recently imported catalog.
// Returns nil if no catalog has been imported.
func (r *CatalogRepo) GetLatest(ctx context.Context, db *sql.DB) (*CatalogRecord, error) {
	const q = `SELECT id, source, document, checksum, operators, datasets, fields, created_at
FROM catalog_snapshots
ORDER BY id DESC
LIMIT 1`

	var c CatalogRecord
	err := db.QueryRowContext(ctx, q).Scan(&c.ID, &c.Source, &c.Document, &c.Checksum,
		&c.Operators, &c.Datasets, &c.Fields, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest catalog: %w", err)
	}
	return &c, nil
}
