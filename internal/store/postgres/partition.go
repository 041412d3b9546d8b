package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/dbx"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const (
	insertRecord = `
		INSERT INTO records (partition, id, owner, created_at, data, keys)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertUniqueKey = `
		INSERT INTO record_unique_keys (partition, key, value, record_id)
		VALUES ($1, $2, $3, $4)`

	lockRecord = `
		SELECT owner FROM records
		WHERE partition = $1 AND id = $2
		FOR UPDATE`

	updateRecord = `
		UPDATE records SET created_at = $3, data = $4, keys = $5
		WHERE partition = $1 AND id = $2`

	deleteUniqueKeys = `
		DELETE FROM record_unique_keys
		WHERE partition = $1 AND record_id = $2`

	deleteRecord = `
		DELETE FROM records
		WHERE partition = $1 AND id = $2`

	selectRecords = `
		SELECT id, owner, created_at, data, keys FROM records`
)

// Partition implements store.Partition over the shared records table.
type Partition struct {
	db     *sql.DB
	name   string
	unique []string
}

func (p *Partition) Insert(ctx context.Context, doc *store.Document) error {
	keys, err := json.Marshal(doc.Keys)
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, insertRecord,
			p.name, doc.ID, string(doc.Owner), doc.CreatedAt, string(doc.Data), string(keys))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate id %s", common.ErrConflict, doc.ID)
			}
			return fmt.Errorf("db error: %w", err)
		}
		return p.insertUniqueKeys(ctx, tx, doc)
	})
}

// Replace locks the stored row, swaps its unique keys and body in one
// transaction; a unique violation rolls everything back.
func (p *Partition) Replace(ctx context.Context, doc *store.Document) error {
	keys, err := json.Marshal(doc.Keys)
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var owner string
		if err := tx.QueryRowContext(ctx, lockRecord, p.name, doc.ID).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: record %s", common.ErrorNotFound, doc.ID)
			}
			return fmt.Errorf("db error: %w", err)
		}

		if _, err := tx.ExecContext(ctx, updateRecord,
			p.name, doc.ID, doc.CreatedAt, string(doc.Data), string(keys)); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteUniqueKeys, p.name, doc.ID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return p.insertUniqueKeys(ctx, tx, doc)
	})
}

func (p *Partition) insertUniqueKeys(ctx context.Context, tx dbx.DBTX, doc *store.Document) error {
	for _, k := range p.unique {
		value := doc.Keys[k]
		if _, err := tx.ExecContext(ctx, insertUniqueKey, p.name, k, value, doc.ID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s %q already used in partition %s", common.ErrConflict, k, value, p.name)
			}
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (p *Partition) Get(ctx context.Context, id uuid.UUID) (*store.Document, error) {
	row := p.db.QueryRowContext(ctx, selectRecords+` WHERE partition = $1 AND id = $2`, p.name, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: record %s", common.ErrorNotFound, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return doc, nil
}

func (p *Partition) Find(ctx context.Context, key, value string) ([]*store.Document, error) {
	query := selectRecords + ` WHERE partition = $1 AND keys ->> $2 = $3 ORDER BY seq`
	return p.query(ctx, query, p.name, key, value)
}

func (p *Partition) All(ctx context.Context, q store.Query) ([]*store.Document, error) {
	query := selectRecords + ` WHERE partition = $1`
	args := []any{p.name}

	if q.Owner != "" {
		args = append(args, string(q.Owner))
		query += fmt.Sprintf(` AND owner = $%d`, len(args))
	}
	if q.OrderBy != "" {
		// encoded keys sort bytewise, so bypass the locale collation
		args = append(args, q.OrderBy)
		query += fmt.Sprintf(` ORDER BY (keys ->> $%d) COLLATE "C", seq`, len(args))
	} else {
		query += ` ORDER BY seq`
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return p.query(ctx, query, args...)
}

func (p *Partition) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, deleteUniqueKeys, p.name, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := dbx.RowsAffected(ctx, tx, deleteRecord, p.name, id)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		deleted = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (p *Partition) query(ctx context.Context, query string, args ...any) ([]*store.Document, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*store.Document, error) {
	var (
		doc   store.Document
		owner string
		data  []byte
		keys  []byte
	)
	if err := s.Scan(&doc.ID, &owner, &doc.CreatedAt, &data, &keys); err != nil {
		return nil, err
	}
	doc.Owner = store.Credentials(owner)
	doc.Data = data
	if err := json.Unmarshal(keys, &doc.Keys); err != nil {
		return nil, fmt.Errorf("decode keys of %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
