// Package store is the schema-defined table set backing the tablet service:
// upsert-by-key writes, filtered queries and atomic multi-table write scopes
// over the per-user SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/JediahDizon/project-naa/internal/db"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/migrate"
	"github.com/JediahDizon/project-naa/internal/session"
)

type Options struct {
	Session session.Session
	// Hook runs when the store on disk is older than migrate.SchemaVersion.
	Hook migrate.Hook
	// Target overrides the schema version to open at. Zero means
	// migrate.SchemaVersion.
	Target int
	Logger logrus.FieldLogger
}

type Store struct {
	db      *sql.DB
	session session.Session
	log     logrus.FieldLogger
	version int
	locks   map[string]*sync.Mutex
}

// Open gates on the session, opens the namespace database and brings it to
// the compiled schema version before returning.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.Session.Ready(); err != nil {
		return nil, err
	}
	log := logging.OrDiscard(opts.Logger)
	conn, err := db.Open(db.Config{Dir: opts.Session.Dir()})
	if err != nil {
		return nil, err
	}
	res, err := migrate.Migrate(ctx, conn, migrate.Options{Hook: opts.Hook, Target: opts.Target})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(opts.Session.Dir()), err)
	}
	if res.Hooked {
		log.WithFields(logrus.Fields{"from": res.From, "to": res.To}).Info("store migrated")
	}
	s := &Store{
		db:      conn,
		session: opts.Session,
		log:     log,
		version: res.To,
		locks:   make(map[string]*sync.Mutex, len(Schema)),
	}
	for name := range Schema {
		s.locks[name] = &sync.Mutex{}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Session() session.Session { return s.session }

// SchemaVersion is the version the store was opened at.
func (s *Store) SchemaVersion() int { return s.version }

// Initialized fails with ErrNotInitialized when the user namespace is gone.
func (s *Store) Initialized(ctx context.Context) error {
	if s == nil || s.db == nil {
		return domain.ErrNotInitialized
	}
	return s.session.Ready()
}

// Create inserts rec, or replaces the row with the same key when upsert is
// set. Without upsert an existing key fails with ConflictError.
func (s *Store) Create(ctx context.Context, table string, rec Record, upsert bool) error {
	return s.Update(ctx, []string{table}, func(tx *Tx) error {
		return tx.Create(ctx, table, rec, upsert)
	})
}

// Get returns the row with primary key id or a NotFoundError.
func (s *Store) Get(ctx context.Context, table, id string) (Record, error) {
	if err := s.Initialized(ctx); err != nil {
		return nil, err
	}
	return get(ctx, s.db, table, id)
}

// Query returns every row matching p. No match is an empty slice.
func (s *Store) Query(ctx context.Context, table string, p Predicate, opts ...QueryOption) ([]Record, error) {
	if err := s.Initialized(ctx); err != nil {
		return nil, err
	}
	return query(ctx, s.db, table, p, opts...)
}

// Delete removes every row matching p and returns how many went.
func (s *Store) Delete(ctx context.Context, table string, p Predicate) (int64, error) {
	var n int64
	err := s.Update(ctx, []string{table}, func(tx *Tx) error {
		var err error
		n, err = tx.Delete(ctx, table, p)
		return err
	})
	return n, err
}

// Update runs fn in one transaction holding the writer lock of every table
// named. Locks are taken in name order. fn may read any table but write only
// the ones named; if fn fails nothing it wrote is kept.
func (s *Store) Update(ctx context.Context, tables []string, fn func(tx *Tx) error) error {
	if err := s.Initialized(ctx); err != nil {
		return err
	}
	names, err := lockOrder(tables)
	if err != nil {
		return err
	}
	for _, n := range names {
		s.locks[n].Lock()
		defer s.locks[n].Unlock()
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unavailable(err)
	}
	defer sqlTx.Rollback()
	tx := &Tx{tx: sqlTx, writable: make(map[string]bool, len(names))}
	for _, n := range names {
		tx.writable[n] = true
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return domain.Unavailable(err)
	}
	return nil
}

func lockOrder(tables []string) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, t := range tables {
		if _, err := lookup(t); err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			names = append(names, t)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Tx is a write scope opened by Store.Update.
type Tx struct {
	tx       *sql.Tx
	writable map[string]bool
}

func (t *Tx) checkWritable(table string) error {
	if !t.writable[table] {
		return fmt.Errorf("table %s is not part of this write scope", table)
	}
	return nil
}

func (t *Tx) Create(ctx context.Context, table string, rec Record, upsert bool) error {
	if err := t.checkWritable(table); err != nil {
		return err
	}
	return create(ctx, t.tx, table, rec, upsert)
}

func (t *Tx) Get(ctx context.Context, table, id string) (Record, error) {
	return get(ctx, t.tx, table, id)
}

func (t *Tx) Query(ctx context.Context, table string, p Predicate, opts ...QueryOption) ([]Record, error) {
	return query(ctx, t.tx, table, p, opts...)
}

func (t *Tx) Delete(ctx context.Context, table string, p Predicate) (int64, error) {
	if err := t.checkWritable(table); err != nil {
		return 0, err
	}
	return del(ctx, t.tx, table, p)
}

// DeleteByID removes one row, failing with NotFoundError when absent.
func (t *Tx) DeleteByID(ctx context.Context, table, id string) error {
	n, err := t.Delete(ctx, table, ID(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Table: table, ID: id}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type queryOptions struct {
	orderBy string
	desc    bool
	limit   int
}

type QueryOption func(*queryOptions)

// OrderBy sorts results by field instead of the primary key.
func OrderBy(field string, desc bool) QueryOption {
	return func(o *queryOptions) {
		o.orderBy = field
		o.desc = desc
	}
}

func Limit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

func create(ctx context.Context, q querier, table string, rec Record, upsert bool) error {
	t, err := lookup(table)
	if err != nil {
		return err
	}
	vals, err := t.row(rec)
	if err != nil {
		return err
	}
	cols := t.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, quote(t.Name), strings.Join(quoted, ","), marks)
	if upsert {
		var sets []string
		for _, c := range cols {
			if c == t.PrimaryKey {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s=excluded.%s", quote(c), quote(c)))
		}
		stmt += fmt.Sprintf(` ON CONFLICT(%s) DO UPDATE SET %s`, quote(t.PrimaryKey), strings.Join(sets, ", "))
	} else {
		existing, err := query(ctx, q, table, ID(rec.String(t.PrimaryKey)))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &domain.ConflictError{Table: table, ID: rec.String(t.PrimaryKey)}
		}
	}
	if _, err := q.ExecContext(ctx, stmt, vals...); err != nil {
		return fmt.Errorf("write %s %s: %w", table, rec.String(t.PrimaryKey), err)
	}
	return nil
}

func get(ctx context.Context, q querier, table, id string) (Record, error) {
	recs, err := query(ctx, q, table, ID(id), Limit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &domain.NotFoundError{Table: table, ID: id}
	}
	return recs[0], nil
}

func query(ctx context.Context, q querier, table string, p Predicate, opts ...QueryOption) ([]Record, error) {
	t, err := lookup(table)
	if err != nil {
		return nil, err
	}
	o := queryOptions{orderBy: t.PrimaryKey}
	for _, opt := range opts {
		opt(&o)
	}
	if _, ok := t.Field(o.orderBy); !ok {
		return nil, fieldErr(t, o.orderBy, "unknown field in order")
	}
	where, args, err := whereClause(t, p)
	if err != nil {
		return nil, err
	}
	cols := t.columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s`, strings.Join(quoted, ","), quote(t.Name), where, quote(o.orderBy))
	if o.desc {
		stmt += " DESC"
	}
	if o.orderBy != t.PrimaryKey {
		stmt += ", " + quote(t.PrimaryKey)
	}
	if o.limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", o.limit)
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	res := []Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res = append(res, t.record(vals))
	}
	return res, rows.Err()
}

func del(ctx context.Context, q querier, table string, p Predicate) (int64, error) {
	t, err := lookup(table)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(t, p)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s%s`, quote(t.Name), where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
