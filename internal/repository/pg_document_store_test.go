package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"account-api/internal/domain"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs    []execCall
	queries  []execCall
	tag      pgconn.CommandTag
	execErr  error
	rows     [][]any
	countVal int64
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.tag, f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	return &fakeRows{rows: f.rows, idx: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	return fakeRow{val: f.countVal}
}

type fakeRow struct {
	val int64
}

func (r fakeRow) Scan(dest ...any) error {
	p, ok := dest[0].(*int64)
	if !ok {
		return fmt.Errorf("unexpected dest %T", dest[0])
	}
	*p = r.val
	return nil
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *[]byte:
			*p = []byte(row[i].(string))
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return fmt.Errorf("unsupported dest %T", d)
		}
	}
	return nil
}

func newFakeStore(db *fakeDB) *PgDocumentStore {
	return &PgDocumentStore{
		db:    db,
		now:   func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		newID: func() string { return "doc-1" },
	}
}

func TestPgStore_CreateInsertsJSON(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("INSERT 0 1")}
	s := newFakeStore(db)

	ref, err := s.Create(context.Background(), "users", map[string]any{"email": "a@x.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.ID != "doc-1" || ref.Path() != "users/doc-1" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if len(db.execs) != 1 {
		t.Fatalf("expected one exec, got %d", len(db.execs))
	}
	args := db.execs[0].args
	if args[0] != "doc-1" || args[1] != "users" || args[2] != `{"email":"a@x.com"}` {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestPgStore_CreateMapsUniqueViolation(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "documents_users_email_key"}}
	s := newFakeStore(db)

	_, err := s.Create(context.Background(), "users", map[string]any{"email": "a@x.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPgStore_StoreWithReferenceAddsRefField(t *testing.T) {
	db := &fakeDB{}
	s := newFakeStore(db)
	input := map[string]any{"city": "Lima"}

	if _, err := s.StoreWithReference(context.Background(), "addresses", input, domain.NewRef("users", "BAKOTE")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := input["users"]; ok {
		t.Fatalf("input was mutated")
	}
	payload := db.execs[0].args[2].(string)
	if payload != `{"city":"Lima","users":{"$ref":"users/BAKOTE"}}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestPgStore_QueryByFieldScansDocuments(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: [][]any{
		{"doc-1", "users", `{"email":"a@x.com","slug":"BAKOTE"}`, created},
	}}
	s := newFakeStore(db)

	docs, err := s.QueryByField(context.Background(), "users", "email", "a@x.com")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" || !docs[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	var u struct {
		Slug string `json:"slug"`
	}
	if err := docs[0].Decode(&u); err != nil || u.Slug != "BAKOTE" {
		t.Fatalf("decode: %v %+v", err, u)
	}
	q := db.queries[0]
	if !strings.Contains(q.sql, "data -> $2::text = $3::text::jsonb") {
		t.Fatalf("unexpected sql: %s", q.sql)
	}
	if q.args[0] != "users" || q.args[1] != "email" || q.args[2] != `"a@x.com"` {
		t.Fatalf("unexpected args: %+v", q.args)
	}
}

func TestPgStore_QueryByReferenceEncodesRef(t *testing.T) {
	db := &fakeDB{}
	s := newFakeStore(db)

	docs, err := s.QueryByReference(context.Background(), "addresses", "users", "users", "BAKOTE")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty slice, got %#v", docs)
	}
	args := db.queries[0].args
	if args[1] != "users" || args[2] != `{"$ref":"users/BAKOTE"}` {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestPgStore_UpdateWhereReturnsRowsAffected(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	s := newFakeStore(db)

	n, err := s.UpdateWhere(context.Background(), "users", "slug", "BAKOTE", map[string]any{"firstName": "Ana"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows, got %d", n)
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "data = data || $4::text::jsonb") {
		t.Fatalf("unexpected sql: %s", call.sql)
	}
	if call.args[3] != `{"firstName":"Ana"}` {
		t.Fatalf("unexpected patch arg: %+v", call.args[3])
	}

	if _, err := s.UpdateWhere(context.Background(), "users", "slug", "BAKOTE", map[string]any{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty patch, got %v", err)
	}
}

func TestPgStore_DeleteWhere(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("DELETE 2")}
	s := newFakeStore(db)

	n, err := s.DeleteWhere(context.Background(), "users", "slug", "BAKOTE")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d (%v)", n, err)
	}
}

func TestPgStore_CountByReferenceAndRange(t *testing.T) {
	db := &fakeDB{countVal: 7}
	s := newFakeStore(db)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.CountByReferenceAndRange(context.Background(), RangeQuery{
		Collection:    "addresses",
		RefCollection: "users",
		RefID:         "BAKOTE",
		Field:         "createdAt",
		After:         from,
		Before:        from.Add(time.Hour),
	})
	if err != nil || n != 7 {
		t.Fatalf("expected 7, got %d (%v)", n, err)
	}
	q := db.queries[0]
	if !strings.HasPrefix(q.sql, "SELECT count(*) FROM documents WHERE") {
		t.Fatalf("unexpected sql: %s", q.sql)
	}
	if !strings.Contains(q.sql, "(data ->> $4::text)::timestamptz > $5::timestamptz") {
		t.Fatalf("expected timestamptz cast, got %s", q.sql)
	}
	if len(q.args) != 6 || q.args[3] != "createdAt" {
		t.Fatalf("unexpected args: %+v", q.args)
	}
}

func TestRangeCondition(t *testing.T) {
	cases := []struct {
		name       string
		after      any
		before     any
		wantSubstr string
		wantErr    bool
	}{
		{name: "numbers", after: 1, before: 10, wantSubstr: "::numeric > $3::numeric"},
		{name: "strings", after: "a", before: "m", wantSubstr: "data ->> $2::text > $3::text"},
		{name: "json", after: true, before: false, wantSubstr: "data -> $2::text > $3::text::jsonb"},
		{name: "mixed", after: 1, before: "x", wantErr: true},
		{name: "missing", after: nil, before: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, args, err := rangeCondition(2, "field", tc.after, tc.before)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(cond, tc.wantSubstr) {
				t.Fatalf("condition %q does not contain %q", cond, tc.wantSubstr)
			}
			if len(args) != 3 || args[0] != "field" {
				t.Fatalf("unexpected args: %+v", args)
			}
		})
	}
}

func TestPgStore_RunInTxReusesTransaction(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("DELETE 1")}
	s := newFakeStore(db)

	called := false
	err := s.RunInTx(context.Background(), func(tx DocumentStore) error {
		called = true
		_, err := tx.DeleteWhere(context.Background(), "users", "slug", "BAKOTE")
		return err
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run on the same executor: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("expected exec on existing executor")
	}
}
