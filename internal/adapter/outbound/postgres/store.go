// Package postgres implements the storage and subscription ports on
// PostgreSQL. Tenant scoping is enforced twice: every statement carries
// an explicit user_handle predicate, and every transaction sets
// app.user_handle so row level security policies apply as a second
// fence.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fortunamind/persistgate/internal/domain/storage"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute

	// softDeleteRetention is how long soft-deleted journal entries are
	// kept before CleanupExpired purges them.
	softDeleteRetention = 30 * 24 * time.Hour
)

// Store implements storage.Backend on a PostgreSQL pool.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the database and verifies connectivity.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	return &Store{db: db, logger: logger.With("component", "postgres_store")}, nil
}

// NewStore wraps an existing pool, for tests.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "postgres_store")}
}

// DB exposes the underlying pool for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

// withTenantTx runs fn inside a transaction that has app.user_handle set
// for the duration of the transaction. The third set_config argument
// makes the setting transaction-local, so pooled connections never leak
// a tenant across requests.
func (s *Store) withTenantTx(ctx context.Context, handle string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.user_handle', $1, true)`, handle); err != nil {
		return fmt.Errorf("failed to set tenant context: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// mapError translates driver errors to domain sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Constraint)
	}
	return err
}

// StoreJournalEntry implements storage.Backend.
func (s *Store) StoreJournalEntry(ctx context.Context, handle string, entry storage.JournalEntry) (*storage.JournalEntry, error) {
	var stored storage.JournalEntry
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO journal_entries (user_handle, title, content, entry_type, symbol, tags, metadata)
			VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
			RETURNING id, created_at, updated_at`,
			handle, entry.Title, entry.Content, entry.EntryType, entry.Symbol,
			pq.Array(entry.Tags), nullableJSON(entry.Metadata))
		stored = entry
		stored.UserHandle = handle
		return row.Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &stored, nil
}

// GetJournalEntries implements storage.Backend.
func (s *Store) GetJournalEntries(ctx context.Context, handle string, filter storage.JournalFilter) ([]storage.JournalEntry, error) {
	query := `
		SELECT id, title, content, entry_type, symbol, tags, metadata, created_at, updated_at
		FROM journal_entries
		WHERE user_handle = $1 AND deleted_at IS NULL`
	args := []interface{}{handle}

	if filter.EntryType != "" {
		args = append(args, filter.EntryType)
		query += fmt.Sprintf(" AND entry_type = $%d", len(args))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		query += fmt.Sprintf(" AND $%d = ANY(tags)", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var entries []storage.JournalEntry
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanJournalEntry(rows)
			if err != nil {
				return err
			}
			e.UserHandle = handle
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJournalEntry(row rowScanner) (*storage.JournalEntry, error) {
	var (
		e         storage.JournalEntry
		title     sql.NullString
		entryType sql.NullString
		symbol    sql.NullString
		metadata  []byte
	)
	err := row.Scan(&e.ID, &title, &e.Content, &entryType, &symbol,
		pq.Array(&e.Tags), &metadata, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Title = title.String
	e.EntryType = entryType.String
	e.Symbol = symbol.String
	e.Metadata = metadata
	return &e, nil
}

// GetJournalEntry implements storage.Backend.
func (s *Store) GetJournalEntry(ctx context.Context, handle, id string) (*storage.JournalEntry, error) {
	var entry *storage.JournalEntry
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, title, content, entry_type, symbol, tags, metadata, created_at, updated_at
			FROM journal_entries
			WHERE user_handle = $1 AND id = $2 AND deleted_at IS NULL`,
			handle, id)
		e, err := scanJournalEntry(row)
		if err != nil {
			return err
		}
		e.UserHandle = handle
		entry = e
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return entry, nil
}

// UpdateJournalEntry implements storage.Backend. Empty fields keep their
// stored value.
func (s *Store) UpdateJournalEntry(ctx context.Context, handle string, entry storage.JournalEntry) (*storage.JournalEntry, error) {
	var updated *storage.JournalEntry
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE journal_entries SET
				title = COALESCE(NULLIF($3, ''), title),
				content = COALESCE(NULLIF($4, ''), content),
				entry_type = COALESCE(NULLIF($5, ''), entry_type),
				symbol = COALESCE(NULLIF($6, ''), symbol),
				tags = COALESCE($7, tags),
				metadata = COALESCE($8, metadata),
				updated_at = now()
			WHERE user_handle = $1 AND id = $2 AND deleted_at IS NULL
			RETURNING id, title, content, entry_type, symbol, tags, metadata, created_at, updated_at`,
			handle, entry.ID, entry.Title, entry.Content, entry.EntryType, entry.Symbol,
			nullableArray(entry.Tags), nullableJSON(entry.Metadata))
		e, err := scanJournalEntry(row)
		if err != nil {
			return err
		}
		e.UserHandle = handle
		updated = e
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

// DeleteJournalEntry implements storage.Backend. Entries are soft
// deleted; CleanupExpired purges them after the retention window.
func (s *Store) DeleteJournalEntry(ctx context.Context, handle, id string) error {
	return s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE journal_entries SET deleted_at = now()
			WHERE user_handle = $1 AND id = $2 AND deleted_at IS NULL`,
			handle, id)
		if err != nil {
			return mapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// SetPreference implements storage.Backend.
func (s *Store) SetPreference(ctx context.Context, handle string, pref storage.Preference) error {
	return s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_preferences (user_handle, pref_key, pref_value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (user_handle, pref_key)
			DO UPDATE SET pref_value = EXCLUDED.pref_value, updated_at = now()`,
			handle, pref.Key, []byte(pref.Value))
		return mapError(err)
	})
}

// GetPreference implements storage.Backend.
func (s *Store) GetPreference(ctx context.Context, handle, key string) (*storage.Preference, error) {
	var pref storage.Preference
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		var value []byte
		err := tx.QueryRowContext(ctx, `
			SELECT pref_key, pref_value, updated_at
			FROM user_preferences
			WHERE user_handle = $1 AND pref_key = $2`,
			handle, key).Scan(&pref.Key, &value, &pref.UpdatedAt)
		if err != nil {
			return err
		}
		pref.UserHandle = handle
		pref.Value = value
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &pref, nil
}

// GetPreferences implements storage.Backend.
func (s *Store) GetPreferences(ctx context.Context, handle string) ([]storage.Preference, error) {
	var prefs []storage.Preference
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT pref_key, pref_value, updated_at
			FROM user_preferences
			WHERE user_handle = $1
			ORDER BY pref_key`,
			handle)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				p     storage.Preference
				value []byte
			)
			if err := rows.Scan(&p.Key, &value, &p.UpdatedAt); err != nil {
				return err
			}
			p.UserHandle = handle
			p.Value = value
			prefs = append(prefs, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err)
	}
	return prefs, nil
}

// StoreRecord implements storage.Backend.
func (s *Store) StoreRecord(ctx context.Context, handle string, rec storage.Record) (*storage.Record, error) {
	var stored storage.Record
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO storage_records (user_handle, record_type, record_key, data, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_handle, record_type, record_key)
			DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = now()
			RETURNING id, created_at, updated_at`,
			handle, rec.RecordType, rec.RecordKey, []byte(rec.Data), rec.ExpiresAt)
		stored = rec
		stored.UserHandle = handle
		return row.Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &stored, nil
}

// GetRecord implements storage.Backend. Expired records read as missing
// even before cleanup runs.
func (s *Store) GetRecord(ctx context.Context, handle, recordType, recordKey string) (*storage.Record, error) {
	var rec storage.Record
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		var (
			data    []byte
			expires sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, record_type, record_key, data, expires_at, created_at, updated_at
			FROM storage_records
			WHERE user_handle = $1 AND record_type = $2 AND record_key = $3
			  AND (expires_at IS NULL OR expires_at > now())`,
			handle, recordType, recordKey).
			Scan(&rec.ID, &rec.RecordType, &rec.RecordKey, &data, &expires, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return err
		}
		rec.UserHandle = handle
		rec.Data = data
		if expires.Valid {
			t := expires.Time
			rec.ExpiresAt = &t
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &rec, nil
}

// GetRecords implements storage.Backend. keyPrefix is matched literally,
// so LIKE metacharacters in it are escaped.
func (s *Store) GetRecords(ctx context.Context, handle, recordType, keyPrefix string) ([]storage.Record, error) {
	pattern := likeEscape(keyPrefix) + "%"
	var recs []storage.Record
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, record_type, record_key, data, expires_at, created_at, updated_at
			FROM storage_records
			WHERE user_handle = $1 AND record_type = $2
			  AND record_key LIKE $3 ESCAPE '\'
			  AND (expires_at IS NULL OR expires_at > now())
			ORDER BY record_key`,
			handle, recordType, pattern)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec     storage.Record
				data    []byte
				expires sql.NullTime
			)
			if err := rows.Scan(&rec.ID, &rec.RecordType, &rec.RecordKey, &data, &expires, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
				return err
			}
			rec.UserHandle = handle
			rec.Data = data
			if expires.Valid {
				t := expires.Time
				rec.ExpiresAt = &t
			}
			recs = append(recs, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err)
	}
	return recs, nil
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// DeleteRecord implements storage.Backend.
func (s *Store) DeleteRecord(ctx context.Context, handle, recordType, recordKey string) error {
	return s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM storage_records
			WHERE user_handle = $1 AND record_type = $2 AND record_key = $3`,
			handle, recordType, recordKey)
		if err != nil {
			return mapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// GetUserStats implements storage.Backend.
func (s *Store) GetUserStats(ctx context.Context, handle string) (*storage.UserStats, error) {
	stats := &storage.UserStats{}
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		var oldest, newest sql.NullTime
		var journalBytes sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT count(*),
			       count(*) FILTER (WHERE created_at >= date_trunc('month', now())),
			       COALESCE(sum(length(content) + length(COALESCE(title, ''))), 0),
			       min(created_at), max(created_at)
			FROM journal_entries
			WHERE user_handle = $1 AND deleted_at IS NULL`,
			handle).Scan(&stats.JournalEntries, &stats.EntriesMonth, &journalBytes, &oldest, &newest)
		if err != nil {
			return err
		}
		if oldest.Valid {
			stats.OldestEntry = oldest.Time
		}
		if newest.Valid {
			stats.NewestEntry = newest.Time
		}

		var prefBytes sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*), COALESCE(sum(pg_column_size(pref_value)), 0)
			FROM user_preferences WHERE user_handle = $1`,
			handle).Scan(&stats.Preferences, &prefBytes); err != nil {
			return err
		}

		var recBytes sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*), COALESCE(sum(pg_column_size(data)), 0)
			FROM storage_records
			WHERE user_handle = $1 AND (expires_at IS NULL OR expires_at > now())`,
			handle).Scan(&stats.Records, &recBytes); err != nil {
			return err
		}

		stats.StorageBytes = journalBytes.Int64 + prefBytes.Int64 + recBytes.Int64
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return stats, nil
}

// CleanupExpired implements storage.Backend. Purges expired records and
// journal entries soft deleted longer ago than the retention window.
// Runs outside any tenant context, so it needs a role that bypasses RLS
// or a BYPASSRLS grant on the maintenance connection.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `DELETE FROM storage_records WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM journal_entries WHERE deleted_at IS NOT NULL AND deleted_at <= now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(softDeleteRetention.Seconds())))
	if err != nil {
		return total, mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// EnforceRetention implements storage.Backend. Entries older than the
// cutoff are removed outright, soft-deleted or not.
func (s *Store) EnforceRetention(ctx context.Context, handle string, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.withTenantTx(ctx, handle, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM journal_entries
			WHERE user_handle = $1 AND created_at < $2`,
			handle, cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, mapError(err)
	}
	return removed, nil
}

// Health implements storage.Backend.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Close implements storage.Backend.
func (s *Store) Close() error { return s.db.Close() }

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullableArray(tags []string) interface{} {
	if tags == nil {
		return nil
	}
	return pq.Array(tags)
}

// Compile-time interface verification.
var _ storage.Backend = (*Store)(nil)
