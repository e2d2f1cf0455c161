// Package historyrepo provides a queryable sqlite-backed index over
// model.HistoryRecord, the pipeline's observability trail (spec §3/§7).
// Rows are addressed by a Snowflake id, independent of the content
// fingerprint they describe, so a given fingerprint can accumulate many
// history rows across repeated translate calls.
package historyrepo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/snowflake"
)

const timeLayout = time.RFC3339Nano

// dbtx is satisfied by *sql.DB and *sql.Tx, mirroring the teacher's
// repository pattern of accepting either a plain connection or an
// in-flight transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists and queries HistoryRecord rows.
type Repository struct {
	db dbtx
}

// New constructs a Repository over an already-migrated database handle.
func New(db dbtx) *Repository {
	return &Repository{db: db}
}

// Write inserts one history record, per spec §7's "history write is
// best-effort" rule the caller decides whether to treat an error here as
// fatal; Write itself always reports failures rather than swallowing them.
func (r *Repository) Write(ctx context.Context, rec model.HistoryRecord) error {
	errorTypes := ""
	if len(rec.ErrorTypes) > 0 {
		b, err := json.Marshal(rec.ErrorTypes)
		if err != nil {
			return fmt.Errorf("historyrepo: marshal error types: %w", err)
		}
		errorTypes = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history_records (
			id, request_id, fingerprint, provider, model, workflow, entry_count,
			duration_ms, cached, used_secondary, primary_failure_reason,
			secondary_failure_reason, rate_limit_errors, key_rotations,
			mismatch_detected, missing_entries, recovered_entries, error_types,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			duration_ms = excluded.duration_ms,
			cached = excluded.cached,
			used_secondary = excluded.used_secondary,
			primary_failure_reason = excluded.primary_failure_reason,
			secondary_failure_reason = excluded.secondary_failure_reason,
			rate_limit_errors = excluded.rate_limit_errors,
			key_rotations = excluded.key_rotations,
			mismatch_detected = excluded.mismatch_detected,
			missing_entries = excluded.missing_entries,
			recovered_entries = excluded.recovered_entries,
			error_types = excluded.error_types`,
		snowflake.NextID(), rec.RequestID, rec.Fingerprint.String(), rec.Provider, rec.Model,
		string(rec.Workflow), rec.EntryCount, rec.DurationMs, boolToInt(rec.Cached),
		boolToInt(rec.UsedSecondary), nullableString(rec.PrimaryFailureReason),
		nullableString(rec.SecondaryFailureReason), rec.RateLimitErrors, rec.KeyRotations,
		boolToInt(rec.MismatchDetected), rec.MissingEntries, rec.RecoveredEntries,
		nullableString(errorTypes), rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("historyrepo: insert: %w", err)
	}
	return nil
}

// Get returns the most recent history record for a given fingerprint, or
// sql.ErrNoRows if none exists.
func (r *Repository) Get(ctx context.Context, fp model.Fingerprint) (model.HistoryRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT request_id, fingerprint, provider, model, workflow, entry_count,
		       duration_ms, cached, used_secondary, primary_failure_reason,
		       secondary_failure_reason, rate_limit_errors, key_rotations,
		       mismatch_detected, missing_entries, recovered_entries, error_types,
		       created_at
		FROM history_records WHERE fingerprint = ? ORDER BY created_at DESC LIMIT 1`,
		fp.String())
	return scanRecord(row)
}

// List returns up to limit history records ordered by most recent first.
func (r *Repository) List(ctx context.Context, limit int) ([]model.HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, fingerprint, provider, model, workflow, entry_count,
		       duration_ms, cached, used_secondary, primary_failure_reason,
		       secondary_failure_reason, rate_limit_errors, key_rotations,
		       mismatch_detected, missing_entries, recovered_entries, error_types,
		       created_at
		FROM history_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("historyrepo: list: %w", err)
	}
	defer rows.Close()

	var out []model.HistoryRecord
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes history rows created before cutoff, implementing
// the 30-day TTL from spec §3 as an explicit sweep rather than relying on
// the cache layer (history_records is a queryable index, not a blob
// behind cache.Backend).
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM history_records WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("historyrepo: delete older than: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.HistoryRecord, error) {
	return scanRecordRows(row)
}

func scanRecordRows(row rowScanner) (model.HistoryRecord, error) {
	var rec model.HistoryRecord
	var fingerprintHex, workflow, createdAt string
	var cached, usedSecondary, mismatchDetected int
	var primaryReason, secondaryReason, errorTypes sql.NullString

	err := row.Scan(
		&rec.RequestID, &fingerprintHex, &rec.Provider, &rec.Model, &workflow, &rec.EntryCount,
		&rec.DurationMs, &cached, &usedSecondary, &primaryReason, &secondaryReason,
		&rec.RateLimitErrors, &rec.KeyRotations, &mismatchDetected, &rec.MissingEntries,
		&rec.RecoveredEntries, &errorTypes, &createdAt,
	)
	if err != nil {
		return model.HistoryRecord{}, err
	}

	rec.Workflow = model.Workflow(workflow)
	rec.Cached = cached != 0
	rec.UsedSecondary = usedSecondary != 0
	rec.MismatchDetected = mismatchDetected != 0
	rec.PrimaryFailureReason = primaryReason.String
	rec.SecondaryFailureReason = secondaryReason.String

	if fp, err := parseFingerprint(fingerprintHex); err == nil {
		rec.Fingerprint = fp
	}
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if errorTypes.Valid && errorTypes.String != "" {
		var types []string
		if err := json.Unmarshal([]byte(errorTypes.String), &types); err == nil {
			rec.ErrorTypes = types
		}
	}

	return rec, nil
}

func parseFingerprint(hexStr string) (model.Fingerprint, error) {
	var fp model.Fingerprint
	raw, err := hex.DecodeString(strings.TrimSpace(hexStr))
	if err != nil || len(raw) != len(fp) {
		return fp, fmt.Errorf("historyrepo: invalid fingerprint %q", hexStr)
	}
	copy(fp[:], raw)
	return fp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
