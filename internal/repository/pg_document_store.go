package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"account-api/internal/domain"
)

const pgUniqueViolation = "23505"

const selectDocuments = `SELECT id, collection, data, created_at FROM documents`

// DBTX es la superficie comun de pgxpool.Pool y pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgDocumentStore implementa DocumentStore sobre una tabla JSONB en Postgres.
type PgDocumentStore struct {
	db    DBTX
	begin txBeginner
	now   func() time.Time
	newID func() string
}

func NewPgDocumentStore(pool *pgxpool.Pool) *PgDocumentStore {
	return &PgDocumentStore{
		db:    pool,
		begin: pool,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (s *PgDocumentStore) Create(ctx context.Context, collection string, data any) (domain.DocumentRef, error) {
	if err := requireCollection(collection); err != nil {
		return domain.DocumentRef{}, err
	}
	obj, err := toObject(data)
	if err != nil {
		return domain.DocumentRef{}, err
	}
	return s.insert(ctx, collection, obj)
}

func (s *PgDocumentStore) StoreWithReference(ctx context.Context, collection string, data any, refs ...domain.Ref) (domain.DocumentRef, error) {
	if err := requireCollection(collection); err != nil {
		return domain.DocumentRef{}, err
	}
	obj, err := withReferences(data, refs)
	if err != nil {
		return domain.DocumentRef{}, err
	}
	return s.insert(ctx, collection, obj)
}

func (s *PgDocumentStore) insert(ctx context.Context, collection string, obj map[string]any) (domain.DocumentRef, error) {
	const query = `
		INSERT INTO documents (id, collection, data, created_at)
		VALUES ($1, $2, $3::text::jsonb, $4)
	`
	payload, err := encodeJSON(obj)
	if err != nil {
		return domain.DocumentRef{}, err
	}
	id := s.newID()
	if _, err := s.db.Exec(ctx, query, id, collection, payload, s.now()); err != nil {
		return domain.DocumentRef{}, mapPgError(err)
	}
	return domain.DocumentRef{ID: id, Collection: collection}, nil
}

func (s *PgDocumentStore) QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	const query = selectDocuments + `
		WHERE collection = $1 AND data -> $2::text = $3::text::jsonb
		ORDER BY created_at, id
	`
	if err := requireCollection(collection); err != nil {
		return nil, err
	}
	encoded, err := encodeJSON(value)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, query, collection, field, encoded)
}

// QueryAll recorre la coleccion completa, sin paginar.
func (s *PgDocumentStore) QueryAll(ctx context.Context, collection string) ([]domain.Document, error) {
	const query = selectDocuments + `
		WHERE collection = $1
		ORDER BY created_at, id
	`
	if err := requireCollection(collection); err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, query, collection)
}

func (s *PgDocumentStore) QueryByReference(ctx context.Context, collection, refCollection, refField, refID string) ([]domain.Document, error) {
	return s.QueryByField(ctx, collection, refField, domain.NewRef(refCollection, refID))
}

func (s *PgDocumentStore) QueryByReferenceAndField(ctx context.Context, collection string, ref domain.Ref, field string, value any) ([]domain.Document, error) {
	const query = selectDocuments + `
		WHERE collection = $1
		  AND data -> $2::text = $3::text::jsonb
		  AND data -> $4::text = $5::text::jsonb
		ORDER BY created_at, id
	`
	if err := requireCollection(collection); err != nil {
		return nil, err
	}
	refValue, err := encodeJSON(ref)
	if err != nil {
		return nil, err
	}
	encoded, err := encodeJSON(value)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, query, collection, ref.Collection, refValue, field, encoded)
}

func (s *PgDocumentStore) QueryByReferenceAndRange(ctx context.Context, q RangeQuery) ([]domain.Document, error) {
	where, args, err := refRangeWhere(q)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, selectDocuments+" WHERE "+where+" ORDER BY created_at, id", args...)
}

func (s *PgDocumentStore) CountByReferenceAndRange(ctx context.Context, q RangeQuery) (int64, error) {
	where, args, err := refRangeWhere(q)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM documents WHERE "+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateWhere aplica patch a todos los documentos que cumplen field == value
// en una sola sentencia y devuelve cuantos documentos se modificaron.
func (s *PgDocumentStore) UpdateWhere(ctx context.Context, collection, field string, value any, patch map[string]any) (int64, error) {
	const query = `
		UPDATE documents SET data = data || $4::text::jsonb
		WHERE collection = $1 AND data -> $2::text = $3::text::jsonb
	`
	if err := requireCollection(collection); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("%w: empty patch", ErrInvalidArgument)
	}
	encoded, err := encodeJSON(value)
	if err != nil {
		return 0, err
	}
	payload, err := encodeJSON(patch)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, query, collection, field, encoded, payload)
}

func (s *PgDocumentStore) UpdateWhereRange(ctx context.Context, collection, field string, after, before any, patch map[string]any) (int64, error) {
	if err := requireCollection(collection); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("%w: empty patch", ErrInvalidArgument)
	}
	cond, rangeArgs, err := rangeCondition(2, field, after, before)
	if err != nil {
		return 0, err
	}
	payload, err := encodeJSON(patch)
	if err != nil {
		return 0, err
	}
	args := append([]any{collection}, rangeArgs...)
	args = append(args, payload)
	query := fmt.Sprintf("UPDATE documents SET data = data || $%d::text::jsonb WHERE collection = $1 AND %s", len(args), cond)
	return s.exec(ctx, query, args...)
}

func (s *PgDocumentStore) DeleteWhere(ctx context.Context, collection, field string, value any) (int64, error) {
	const query = `
		DELETE FROM documents
		WHERE collection = $1 AND data -> $2::text = $3::text::jsonb
	`
	if err := requireCollection(collection); err != nil {
		return 0, err
	}
	encoded, err := encodeJSON(value)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, query, collection, field, encoded)
}

func (s *PgDocumentStore) DeleteByReferenceAndRange(ctx context.Context, q RangeQuery) (int64, error) {
	where, args, err := refRangeWhere(q)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, "DELETE FROM documents WHERE "+where, args...)
}

func (s *PgDocumentStore) DeleteByReferenceAndField(ctx context.Context, collection string, ref domain.Ref, field string, value any) (int64, error) {
	const query = `
		DELETE FROM documents
		WHERE collection = $1
		  AND data -> $2::text = $3::text::jsonb
		  AND data -> $4::text = $5::text::jsonb
	`
	if err := requireCollection(collection); err != nil {
		return 0, err
	}
	refValue, err := encodeJSON(ref)
	if err != nil {
		return 0, err
	}
	encoded, err := encodeJSON(value)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, query, collection, ref.Collection, refValue, field, encoded)
}

func (s *PgDocumentStore) QueryArrayContains(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	const query = selectDocuments + `
		WHERE collection = $1 AND data -> $2::text @> jsonb_build_array($3::text::jsonb)
		ORDER BY created_at, id
	`
	if err := requireCollection(collection); err != nil {
		return nil, err
	}
	encoded, err := encodeJSON(value)
	if err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, query, collection, field, encoded)
}

// QueryCollectionGroup devuelve los documentos de toda coleccion cuyo ultimo
// segmento de path sea name (por ejemplo "addresses" y "users/BAKOTE/addresses").
func (s *PgDocumentStore) QueryCollectionGroup(ctx context.Context, name string) ([]domain.Document, error) {
	const query = selectDocuments + `
		WHERE collection = $1 OR right(collection, length($1) + 1) = '/' || $1
		ORDER BY created_at, id
	`
	if err := requireCollection(name); err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, query, name)
}

// RunInTx ejecuta fn dentro de una transaccion. Dentro de una transaccion
// existente fn reutiliza la misma.
func (s *PgDocumentStore) RunInTx(ctx context.Context, fn func(DocumentStore) error) error {
	if s.begin == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.begin, func(tx pgx.Tx) error {
		return fn(&PgDocumentStore{db: tx, now: s.now, newID: s.newID})
	})
}

func (s *PgDocumentStore) queryDocuments(ctx context.Context, query string, args ...any) ([]domain.Document, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		var (
			doc domain.Document
			raw []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Collection, &raw, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Data = json.RawMessage(raw)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PgDocumentStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

// refRangeWhere arma "collection = $1 AND <ref> AND <rango>" con sus argumentos.
func refRangeWhere(q RangeQuery) (string, []any, error) {
	if err := q.validate(); err != nil {
		return "", nil, err
	}
	refValue, err := encodeJSON(q.ref())
	if err != nil {
		return "", nil, err
	}
	cond, rangeArgs, err := rangeCondition(4, q.Field, q.After, q.Before)
	if err != nil {
		return "", nil, err
	}
	args := append([]any{q.Collection, q.RefCollection, refValue}, rangeArgs...)
	where := "collection = $1 AND data -> $2::text = $3::text::jsonb AND " + cond
	return where, args, nil
}

// rangeCondition construye la condicion de intervalo abierto sobre field
// usando placeholders desde $first. El cast depende del tipo Go de los limites.
func rangeCondition(first int, field string, after, before any) (string, []any, error) {
	kind, err := boundKindOf(after, before)
	if err != nil {
		return "", nil, err
	}
	f, a, b := first, first+1, first+2
	switch kind {
	case boundTime:
		cond := fmt.Sprintf("(data ->> $%d::text)::timestamptz > $%d::timestamptz AND (data ->> $%d::text)::timestamptz < $%d::timestamptz", f, a, f, b)
		return cond, []any{field, after.(time.Time).UTC(), before.(time.Time).UTC()}, nil
	case boundNumber:
		cond := fmt.Sprintf("(data ->> $%d::text)::numeric > $%d::numeric AND (data ->> $%d::text)::numeric < $%d::numeric", f, a, f, b)
		return cond, []any{field, after, before}, nil
	case boundString:
		cond := fmt.Sprintf("data ->> $%d::text > $%d::text AND data ->> $%d::text < $%d::text", f, a, f, b)
		return cond, []any{field, after, before}, nil
	default:
		lower, err := encodeJSON(after)
		if err != nil {
			return "", nil, err
		}
		upper, err := encodeJSON(before)
		if err != nil {
			return "", nil, err
		}
		cond := fmt.Sprintf("data -> $%d::text > $%d::text::jsonb AND data -> $%d::text < $%d::text::jsonb", f, a, f, b)
		return cond, []any{field, lower, upper}, nil
	}
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
