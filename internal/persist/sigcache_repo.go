package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SigCacheEntry is one resolved signature offset.
type SigCacheEntry struct {
	Name   string
	Offset int64
}

// SigCacheRepo remembers where signatures matched in a host code image,
// keyed by the image fingerprint. It satisfies hook.Cache.
type SigCacheRepo struct {
	db *DB
}

func NewSigCacheRepo(db *DB) *SigCacheRepo {
	return &SigCacheRepo{db: db}
}

func (r *SigCacheRepo) Lookup(ctx context.Context, image, name string) (int64, bool, error) {
	var off int64
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT code_offset FROM sig_cache WHERE image_hash = ? AND name = ?`),
		image, name,
	).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sig cache lookup %s: %w", name, err)
	}
	return off, true, nil
}

func (r *SigCacheRepo) Store(ctx context.Context, image, name string, offset int64) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(upsertSQL),
		image, name, offset, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sig cache store %s: %w", name, err)
	}
	return nil
}

const upsertSQL = `INSERT INTO sig_cache (image_hash, name, code_offset, updated_at)
	 VALUES (?, ?, ?, ?)
	 ON CONFLICT (image_hash, name) DO UPDATE
	 SET code_offset = excluded.code_offset, updated_at = excluded.updated_at`

// StoreBatch writes several offsets for one image in a single transaction.
func (r *SigCacheRepo) StoreBatch(ctx context.Context, image string, entries []SigCacheEntry) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sig cache begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, r.db.rebind(upsertSQL), image, e.Name, e.Offset, now); err != nil {
			return fmt.Errorf("sig cache insert %s: %w", e.Name, err)
		}
	}
	return tx.Commit()
}

// Entries lists every cached offset for an image, ordered by name.
func (r *SigCacheRepo) Entries(ctx context.Context, image string) ([]SigCacheEntry, error) {
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT name, code_offset FROM sig_cache WHERE image_hash = ? ORDER BY name`), image)
	if err != nil {
		return nil, fmt.Errorf("sig cache entries: %w", err)
	}
	defer rows.Close()

	var out []SigCacheEntry
	for rows.Next() {
		var e SigCacheEntry
		if err := rows.Scan(&e.Name, &e.Offset); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge drops entries for every image except keep. Old host builds never
// come back once patched.
func (r *SigCacheRepo) Purge(ctx context.Context, keep string) (int64, error) {
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`DELETE FROM sig_cache WHERE image_hash <> ?`), keep)
	if err != nil {
		return 0, fmt.Errorf("sig cache purge: %w", err)
	}
	return res.RowsAffected()
}
