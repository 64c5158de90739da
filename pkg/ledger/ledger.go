// Package ledger implements the Audit Confidentiality Ledger (ACL):
// an append-only sqlite event store whose payloads are encrypted with
// AES-256-GCM and whose rows are hash-chained for tamper evidence.
//
// Rows are never updated or deleted. Writers are serialized; readers
// see a committed prefix.
package ledger

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/finllm-labs/gateway/pkg/canonicalize"
)

// EventType categorizes a ledger row.
type EventType string

const (
	EventQueryBlocked  EventType = "query_blocked"
	EventQuerySuccess  EventType = "query_success"
	EventOutputBlocked EventType = "output_blocked"
	EventSecurityFail  EventType = "security_fail"
)

// Event is a decrypted ledger row. When the stored payload cannot be
// decrypted or parsed, Payload carries {"raw": <ciphertext>} instead of
// dropping the row.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp string         `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// Ledger is the append-only encrypted event store.
type Ledger struct {
	db    *sql.DB
	aead  cipher.AEAD
	mu    sync.Mutex // single-writer invariant
	clock func() time.Time
}

// Open opens (or creates) the ledger database at path and runs the
// idempotent migration. key is the decoded 32-byte AEAD key.
func Open(path string, key []byte) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent request load.
	db.SetMaxOpenConns(1)

	l, err := New(db, key)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New builds a Ledger over an existing database handle and migrates it.
func New(db *sql.DB, key []byte) (*Ledger, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	l := &Ledger{db: db, aead: aead, clock: time.Now}
	if err := l.init(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("ledger: AEAD key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ledger: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ledger: gcm init: %w", err)
	}
	return aead, nil
}

func (l *Ledger) init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		prev_hash TEXT NOT NULL DEFAULT '',
		entry_hash TEXT NOT NULL DEFAULT ''
	);`
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Log serializes payload to JSON, encrypts it, and appends a row.
// Returns the new row id. Serialization never fails: payloads that
// cannot marshal are stored as {"__repr__": <string form>}.
func (l *Ledger) Log(ctx context.Context, eventType EventType, payload map[string]any) (int64, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		plaintext, _ = json.Marshal(map[string]string{"__repr__": fmt.Sprintf("%+v", payload)})
	}

	ciphertext, err := l.encrypt(plaintext)
	if err != nil {
		return 0, err
	}

	timestamp := l.clock().UTC().Format(time.RFC3339Nano)

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevHash string
	err = tx.QueryRowContext(ctx, `SELECT entry_hash FROM audit ORDER BY id DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ledger: read head: %w", err)
	}

	entryHash, err := canonicalize.CanonicalHash(map[string]any{
		"timestamp":  timestamp,
		"event_type": string(eventType),
		"payload":    string(plaintext),
		"prev_hash":  prevHash,
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: hash entry: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit (timestamp, event_type, payload, prev_hash, entry_hash) VALUES (?, ?, ?, ?, ?)`,
		timestamp, string(eventType), ciphertext, prevHash, entryHash,
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}
	return id, nil
}

// Get retrieves a single event by id. Returns (nil, nil) when absent.
func (l *Ledger) Get(ctx context.Context, id int64) (*Event, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, timestamp, event_type, payload FROM audit WHERE id = ?`, id)
	ev, err := l.scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get %d: %w", id, err)
	}
	return ev, nil
}

// Recent returns the most recent events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, payload FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		ev, err := l.scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: rows: %w", err)
	}
	return events, nil
}

// VerifyChain walks the ledger in id order and recomputes every entry
// hash. It reports the first break it finds.
func (l *Ledger) VerifyChain(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, payload, prev_hash, entry_hash FROM audit ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("ledger: verify: %w", err)
	}
	defer func() { _ = rows.Close() }()

	head := ""
	for rows.Next() {
		var (
			id                    int64
			timestamp, eventType  string
			payload               sql.NullString
			prevHash, storedHash  string
		)
		if err := rows.Scan(&id, &timestamp, &eventType, &payload, &prevHash, &storedHash); err != nil {
			return fmt.Errorf("ledger: verify scan: %w", err)
		}
		if prevHash != head {
			return fmt.Errorf("ledger: chain broken at id %d: prev hash mismatch", id)
		}
		plaintext, err := l.decrypt(payload.String)
		if err != nil {
			return fmt.Errorf("ledger: chain unverifiable at id %d: %w", id, err)
		}
		computed, err := canonicalize.CanonicalHash(map[string]any{
			"timestamp":  timestamp,
			"event_type": eventType,
			"payload":    string(plaintext),
			"prev_hash":  prevHash,
		})
		if err != nil {
			return fmt.Errorf("ledger: rehash id %d: %w", id, err)
		}
		if computed != storedHash {
			return fmt.Errorf("ledger: integrity failure at id %d", id)
		}
		head = storedHash
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanFunc func(dest ...any) error

func (l *Ledger) scanEvent(scan scanFunc) (*Event, error) {
	var (
		id                   int64
		timestamp, eventType string
		payload              sql.NullString
	)
	if err := scan(&id, &timestamp, &eventType, &payload); err != nil {
		return nil, err
	}

	ev := &Event{ID: id, Timestamp: timestamp, EventType: EventType(eventType)}
	if !payload.Valid || payload.String == "" {
		return ev, nil
	}

	plaintext, err := l.decrypt(payload.String)
	if err == nil {
		var decoded map[string]any
		if json.Unmarshal(plaintext, &decoded) == nil {
			ev.Payload = decoded
			return ev, nil
		}
	}
	// Surface undecryptable rows rather than dropping them.
	ev.Payload = map[string]any{"raw": payload.String}
	return ev, nil
}

func (l *Ledger) encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, l.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ledger: nonce: %w", err)
	}
	sealed := l.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (l *Ledger) decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ledger: ciphertext decode: %w", err)
	}
	if len(sealed) < l.aead.NonceSize() {
		return nil, fmt.Errorf("ledger: ciphertext too short")
	}
	nonce, ct := sealed[:l.aead.NonceSize()], sealed[l.aead.NonceSize():]
	plaintext, err := l.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: decrypt: %w", err)
	}
	return plaintext, nil
}
