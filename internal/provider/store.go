// Package provider implements a reference local storage provider (a
// stand-in "remote memory service" used by tests and the CLI): it
// persists confirmed entity versions and a push/pull outbox in SQLite,
// exposing the abstract push/pull/subscribe contract named in §6
// without committing to any real wire protocol. Grounded on the
// teacher's internal/store.Open for schema/pragma/migration handling,
// adapted from an append-only invocation log to an entity version
// table.
package provider

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/weftrun/weave/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// Provider is a SQLite-backed reference storage provider for one space.
type Provider struct {
	db    *sql.DB
	space string
	log   *slog.Logger
}

// Open creates or opens a SQLite database at path for space, applying
// pragmas and schema exactly as the teacher's store.Open does.
func Open(path, space string) (*Provider, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening provider database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to provider database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying provider schema: %w", err)
	}

	return &Provider{db: db, space: space, log: slog.Default()}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Record is one confirmed entity version as persisted by the provider.
type Record struct {
	ID        value.EntityID
	Version   int64
	Hash      string
	Value     value.Value // nil for a tombstone
	Tombstone bool
}

// Get fetches the current confirmed record for id, the provider half
// of the sync protocol's "request a value from the provider" step
// (§4.9 step 2).
func (p *Provider) Get(ctx context.Context, id value.EntityID) (Record, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT version, hash, value, tombstone FROM entities
		WHERE space = ? AND id = ?`, p.space, string(id))

	var version int64
	var hash string
	var raw sql.NullString
	var tombstone int
	if err := row.Scan(&version, &hash, &raw, &tombstone); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get entity %s: %w", id, err)
	}

	rec := Record{ID: id, Version: version, Hash: hash, Tombstone: tombstone != 0}
	if raw.Valid {
		v, err := value.UnmarshalJSON([]byte(raw.String))
		if err != nil {
			return Record{}, false, fmt.Errorf("decoding stored value for %s: %w", id, err)
		}
		rec.Value = v
	}
	return rec, true, nil
}

// Send persists a new confirmed version for id. In-memory Link values
// anywhere within v are rendered to their `{"/": ...}` sigil wire form
// automatically by MarshalCanonical, satisfying §4.9's push
// translation without a separate transform pass.
func (p *Provider) Send(ctx context.Context, id value.EntityID, version int64, v value.Value) (Record, error) {
	canonical, err := value.MarshalCanonical(v)
	if err != nil {
		return Record{}, fmt.Errorf("canonicalizing push for %s: %w", id, err)
	}
	hash := hashCanonical(canonical)

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO entities (space, id, version, hash, value, tombstone, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, unixepoch())
		ON CONFLICT(space, id) DO UPDATE SET
			version = excluded.version, hash = excluded.hash,
			value = excluded.value, tombstone = 0, updated_at = excluded.updated_at
	`, p.space, string(id), version, hash, string(canonical))
	if err != nil {
		return Record{}, fmt.Errorf("send entity %s: %w", id, err)
	}

	if err := p.recordOutbox(ctx, id, version); err != nil {
		return Record{}, err
	}

	p.log.Info("provider send", "space", p.space, "id", id, "version", version)
	return Record{ID: id, Version: version, Hash: hash, Value: v}, nil
}

// Destroy tombstones id: subsequent Get calls report it present with
// Tombstone=true and Value=nil, per SPEC_FULL's Open Question #1
// (retractions are explicit tombstones, not missing rows).
func (p *Provider) Destroy(ctx context.Context, id value.EntityID, version int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO entities (space, id, version, hash, value, tombstone, updated_at)
		VALUES (?, ?, ?, '', NULL, 1, unixepoch())
		ON CONFLICT(space, id) DO UPDATE SET
			version = excluded.version, hash = '', value = NULL,
			tombstone = 1, updated_at = excluded.updated_at
	`, p.space, string(id), version)
	if err != nil {
		return fmt.Errorf("destroy entity %s: %w", id, err)
	}
	return p.recordOutbox(ctx, id, version)
}

// hashCanonical mirrors replica.commitHash's SHA-256-over-canonical-JSON
// idiom, used here to give each stored version a content hash.
func hashCanonical(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func (p *Provider) recordOutbox(ctx context.Context, id value.EntityID, version int64) error {
	var seq int64
	row := p.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM outbox WHERE space = ?`, p.space)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("computing outbox sequence: %w", err)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO outbox (space, entity_id, version, seq) VALUES (?, ?, ?, ?)
	`, p.space, string(id), version, seq)
	if err != nil {
		return fmt.Errorf("recording outbox entry: %w", err)
	}
	return nil
}

// Sink drains the outbox entries with seq strictly greater than since,
// in order — the provider side of the "subscribe" direction, giving
// the sync manager a deterministic replay cursor.
func (p *Provider) Sink(ctx context.Context, since int64) ([]Record, int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT o.entity_id, o.seq, e.version, e.hash, e.value, e.tombstone
		FROM outbox o
		JOIN entities e ON e.space = o.space AND e.id = o.entity_id
		WHERE o.space = ? AND o.seq > ?
		ORDER BY o.seq ASC
	`, p.space, since)
	if err != nil {
		return nil, since, fmt.Errorf("sink query: %w", err)
	}
	defer rows.Close()

	var recs []Record
	maxSeq := since
	for rows.Next() {
		var id string
		var seq, version int64
		var hash string
		var raw sql.NullString
		var tombstone int
		if err := rows.Scan(&id, &seq, &version, &hash, &raw, &tombstone); err != nil {
			return nil, since, fmt.Errorf("sink scan: %w", err)
		}
		rec := Record{ID: value.EntityID(id), Version: version, Hash: hash, Tombstone: tombstone != 0}
		if raw.Valid {
			v, err := value.UnmarshalJSON([]byte(raw.String))
			if err != nil {
				return nil, since, fmt.Errorf("decoding sink value for %s: %w", id, err)
			}
			rec.Value = v
		}
		recs = append(recs, rec)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, since, fmt.Errorf("iterating sink rows: %w", err)
	}
	return recs, maxSeq, nil
}
