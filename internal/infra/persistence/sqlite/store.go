// Package sqlite provides a SQLite-backed persistent store. It reuses the
// in-memory implementation for transaction semantics and snapshots the full
// state after every successful commit, one row per entity keyed by the
// single-table key scheme.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"kitcore/internal/infra/persistence/memory"
	"kitcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS records (
	pk       TEXT NOT NULL,
	sk       TEXT NOT NULL,
	entity   TEXT NOT NULL,
	seq      INTEGER NOT NULL,
	gsi1pk   TEXT NOT NULL DEFAULT '',
	gsi1sk   TEXT NOT NULL DEFAULT '',
	gsi6pk   TEXT NOT NULL DEFAULT '',
	gsi6sk   TEXT NOT NULL DEFAULT '',
	gsi_name TEXT NOT NULL DEFAULT '',
	gsi_nsn  TEXT NOT NULL DEFAULT '',
	payload  BLOB NOT NULL,
	PRIMARY KEY (pk, sk)
);
CREATE INDEX IF NOT EXISTS records_gsi1 ON records (gsi1pk, gsi1sk);
CREATE INDEX IF NOT EXISTS records_gsi6 ON records (gsi6pk, gsi6sk);
CREATE INDEX IF NOT EXISTS records_name ON records (gsi_name);
CREATE INDEX IF NOT EXISTS records_nsn ON records (gsi_nsn);`

// Store persists the in-memory state to a single SQLite records table.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "kitcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}
	ms := memory.NewStore(engine)
	s := &Store{Store: ms, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT entity, payload FROM records ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var entity string
		var payload []byte
		if err := rows.Scan(&entity, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := decodeRecord(entity, payload, &snapshot); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	s.Store.ImportState(snapshot)
	return nil
}

func decodeRecord(entity string, payload []byte, snapshot *memory.Snapshot) error {
	switch domain.EntityType(entity) {
	case domain.EntityItem:
		var it domain.Item
		if err := json.Unmarshal(payload, &it); err != nil {
			return fmt.Errorf("decode item: %w", err)
		}
		snapshot.Items = append(snapshot.Items, it)
	case domain.EntityTeam:
		var t domain.Team
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("decode team: %w", err)
		}
		snapshot.Teams = append(snapshot.Teams, t)
	case domain.EntityMembership:
		var m domain.Membership
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("decode membership: %w", err)
		}
		snapshot.Memberships = append(snapshot.Memberships, m)
	case domain.EntityUser:
		var u domain.User
		if err := json.Unmarshal(payload, &u); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		snapshot.Users = append(snapshot.Users, u)
	case domain.EntityRole:
		var r domain.Role
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("decode role: %w", err)
		}
		snapshot.Roles = append(snapshot.Roles, r)
	default:
		return fmt.Errorf("unknown record entity %q", entity)
	}
	return nil
}

type row struct {
	keys    domain.RecordKeys
	entity  domain.EntityType
	payload any
}

func snapshotRows(snap memory.Snapshot) []row {
	var rows []row
	for _, t := range snap.Teams {
		rows = append(rows, row{keys: domain.TeamRecordKeys(t), entity: domain.EntityTeam, payload: t})
	}
	for _, it := range snap.Items {
		rows = append(rows, row{keys: domain.ItemRecordKeys(it), entity: domain.EntityItem, payload: it})
	}
	for _, m := range snap.Memberships {
		rows = append(rows, row{keys: domain.MembershipRecordKeys(m), entity: domain.EntityMembership, payload: m})
	}
	for _, u := range snap.Users {
		rows = append(rows, row{keys: domain.UserRecordKeys(u), entity: domain.EntityUser, payload: u})
	}
	for _, r := range snap.Roles {
		rows = append(rows, row{keys: domain.RoleRecordKeys(r), entity: domain.EntityRole, payload: r})
	}
	return rows
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.Store.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError{Op: "begin snapshot", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return domain.StorageError{Op: "clear records", Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records
		(pk, sk, entity, seq, gsi1pk, gsi1sk, gsi6pk, gsi6sk, gsi_name, gsi_nsn, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return domain.StorageError{Op: "prepare insert", Err: err}
	}
	defer func() { _ = stmt.Close() }()

	for seq, r := range snapshotRows(snap) {
		payload, err := json.Marshal(r.payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.entity, err)
		}
		k := r.keys
		if _, err := stmt.ExecContext(ctx, k.PK, k.SK, string(r.entity), seq,
			k.GSI1PK, k.GSI1SK, k.GSI6PK, k.GSI6SK, k.GSIName, k.GSINSN, payload); err != nil {
			return domain.StorageError{Op: "insert record", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError{Op: "commit snapshot", Err: err}
	}
	return nil
}

// RunInTransaction applies fn in memory, then snapshots to SQLite on success.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
