package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLStore keeps every collection in the documents table (see internal/db).
// Data is stored as JSON text. Filters on $id and $createdAt narrow the rows in
// SQL; every filter then runs over the decoded rows.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time

	mu   sync.Mutex
	last int64
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// stamp returns a strictly increasing timestamp so creation order survives
// clocks with coarse resolution.
func (s *SQLStore) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UTC().UnixNano()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return time.Unix(0, n).UTC()
}

func (s *SQLStore) List(ctx context.Context, collection string, q Query) (Page, error) {
	q, err := q.validate()
	if err != nil {
		return Page{}, err
	}
	where, args := prefilter(q.Filters, 2)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection=$1`+where+` ORDER BY created_at, id`,
		append([]any{collection}, args...)...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDoc(rows, collection)
		if err != nil {
			return Page{}, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	return apply(docs, q), nil
}

// prefilter turns the top-level $id equality and $createdAt range filters into
// SQL conditions. Placeholders start at $next. Filters it cannot express are
// left to apply.
func prefilter(filters []Filter, next int) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		p := "$" + strconv.Itoa(next)
		next++
		return p
	}
	for _, f := range filters {
		switch {
		case f.Field == FieldID && f.Op == OpEqual:
			ids := make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				id, ok := v.(string)
				if !ok {
					ids = nil
					break
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				continue
			}
			ph := make([]string, len(ids))
			for i, id := range ids {
				ph[i] = arg(id)
			}
			b.WriteString(" AND id IN (" + strings.Join(ph, ", ") + ")")
		case f.Field == FieldCreatedAt && len(f.Values) == 1:
			op, ok := rangeOps[f.Op]
			if !ok {
				continue
			}
			t, ok := asTime(f.Values[0])
			if !ok {
				continue
			}
			b.WriteString(" AND created_at " + op + " " + arg(t.UTC().UnixNano()))
		}
	}
	return b.String(), args
}

var rangeOps = map[Op]string{
	OpLessThan:         "<",
	OpLessThanEqual:    "<=",
	OpGreaterThan:      ">",
	OpGreaterThanEqual: ">=",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner, collection string) (Document, error) {
	var (
		d                Document
		raw              string
		created, updated int64
	)
	if err := row.Scan(&d.ID, &raw, &created, &updated); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal([]byte(raw), &d.Data); err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", collection, d.ID, err)
	}
	if d.Data == nil {
		d.Data = map[string]any{}
	}
	d.Collection = collection
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return d, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection=$1 AND id=$2`,
		collection, id)
	d, err := scanDoc(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

func (s *SQLStore) Create(ctx context.Context, collection string, in CreateInput) (Document, error) {
	data, err := normalizeJSON(in.Data)
	if err != nil {
		return Document{}, err
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return Document{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	var key any
	if in.UniqueKey != "" {
		key = in.UniqueKey
	}
	now := s.stamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, unique_key, data, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		collection, id, key, string(buf), now.UnixNano(), now.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return Document{}, fmt.Errorf("%w: %s", ErrConflict, err.Error())
		}
		return Document{}, err
	}
	return Document{ID: id, Collection: collection, CreatedAt: now, UpdatedAt: now, Data: data}, nil
}

func (s *SQLStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error) {
	p, err := normalizeJSON(patch)
	if err != nil {
		return Document{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection=$1 AND id=$2`,
		collection, id)
	d, err := scanDoc(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	for k, v := range p {
		d.Data[k] = v
	}
	buf, err := json.Marshal(d.Data)
	if err != nil {
		return Document{}, err
	}
	d.UpdatedAt = s.stamp()
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data=$1, updated_at=$2 WHERE collection=$3 AND id=$4`,
		string(buf), d.UpdatedAt.UnixNano(), collection, id); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
