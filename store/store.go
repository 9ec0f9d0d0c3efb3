// Package store keeps named emfrp load buffers in a SQLite database so
// programs can be installed on a machine by name.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sync"
	"time"

	"github.com/chazu/emfrp/vm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("emfrp.store")

// ErrNotFound indicates the requested program doesn't exist.
var ErrNotFound = errors.New("program not found")

// Record describes a stored program. Code is only populated by Get.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	Code      []byte    `json:"-"`
}

// Store handles SQLite storage for load buffers.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS programs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	hash       TEXT NOT NULL,
	code       BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// Open opens or creates the program database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating table")
	}

	log.Debugf("opened program store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Put stores code under name, replacing any program with that name. The
// buffer must be a well-formed load buffer.
func (s *Store) Put(ctx context.Context, name string, code []byte) (*Record, error) {
	if name == "" {
		return nil, errors.New("program name must not be empty")
	}
	if _, err := vm.ParseLoad(code); err != nil {
		return nil, errors.Wrapf(err, "program %q", name)
	}

	sum := sha256.Sum256(code)
	rec := &Record{
		ID:        uuid.NewString(),
		Name:      name,
		Hash:      hex.EncodeToString(sum[:]),
		Size:      len(code),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Code:      append([]byte{}, code...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.QueryRowContext(ctx, `INSERT INTO programs (id, name, hash, code, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET hash = excluded.hash, code = excluded.code, created_at = excluded.created_at
		RETURNING id`,
		rec.ID, rec.Name, rec.Hash, rec.Code, rec.CreatedAt.Unix(),
	).Scan(&rec.ID)
	if err != nil {
		return nil, errors.Wrap(err, "saving program")
	}

	log.Infof("stored %s (%d bytes, %s)", name, rec.Size, rec.Hash[:12])
	return rec, nil
}

// Get retrieves a program by name or ID.
func (s *Store) Get(ctx context.Context, ref string) (*Record, error) {
	var (
		rec     Record
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, hash, code, created_at FROM programs WHERE name = ? OR id = ?",
		ref, ref,
	).Scan(&rec.ID, &rec.Name, &rec.Hash, &rec.Code, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrNotFound, ref)
		}
		return nil, errors.Wrap(err, "querying program")
	}
	rec.Size = len(rec.Code)
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return &rec, nil
}

// List returns every stored program ordered by name, without code.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, hash, length(code), created_at FROM programs ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(err, "listing programs")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Hash, &rec.Size, &created); err != nil {
			return nil, errors.Wrap(err, "scanning program")
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "listing programs")
}

// Delete removes a program by name or ID.
func (s *Store) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM programs WHERE name = ? OR id = ?", ref, ref)
	if err != nil {
		return errors.Wrap(err, "deleting program")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting program")
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, ref)
	}
	return nil
}
