package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"account-api/internal/domain"
)

type memoryDocument struct {
	id         string
	collection string
	data       map[string]any
	createdAt  time.Time
}

type memoryState struct {
	docs   []memoryDocument
	unique map[string][]string
}

// MemoryDocumentStore implementa DocumentStore en memoria. Las transacciones
// toman el lock completo y restauran un snapshot si fn falla.
type MemoryDocumentStore struct {
	mu    *sync.Mutex
	state *memoryState
	inTx  bool
	now   func() time.Time
}

type MemoryOption func(*memoryState)

// WithUniqueField exige que field sea unico dentro de collection, como un indice unico.
func WithUniqueField(collection, field string) MemoryOption {
	return func(s *memoryState) {
		s.unique[collection] = append(s.unique[collection], field)
	}
}

func NewMemoryDocumentStore(opts ...MemoryOption) *MemoryDocumentStore {
	state := &memoryState{unique: make(map[string][]string)}
	for _, opt := range opts {
		opt(state)
	}
	return &MemoryDocumentStore{
		mu:    &sync.Mutex{},
		state: state,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryDocumentStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryDocumentStore) Create(_ context.Context, collection string, data any) (domain.DocumentRef, error) {
	defer s.lock()()
	if err := requireCollection(collection); err != nil {
		return domain.DocumentRef{}, err
	}
	obj, err := toObject(data)
	if err != nil {
		return domain.DocumentRef{}, err
	}
	return s.insert(collection, obj)
}

func (s *MemoryDocumentStore) StoreWithReference(_ context.Context, collection string, data any, refs ...domain.Ref) (domain.DocumentRef, error) {
	defer s.lock()()
	if err := requireCollection(collection); err != nil {
		return domain.DocumentRef{}, err
	}
	obj, err := withReferences(data, refs)
	if err != nil {
		return domain.DocumentRef{}, err
	}
	// withReferences deja valores domain.Ref; se normalizan a su forma JSON.
	obj, err = toObject(obj)
	if err != nil {
		return domain.DocumentRef{}, err
	}
	return s.insert(collection, obj)
}

func (s *MemoryDocumentStore) insert(collection string, obj map[string]any) (domain.DocumentRef, error) {
	doc := memoryDocument{
		id:         uuid.NewString(),
		collection: collection,
		data:       obj,
		createdAt:  s.now(),
	}
	if err := s.checkUnique(doc); err != nil {
		return domain.DocumentRef{}, err
	}
	s.state.docs = append(s.state.docs, doc)
	return domain.DocumentRef{ID: doc.id, Collection: collection}, nil
}

func (s *MemoryDocumentStore) QueryByField(_ context.Context, collection, field string, value any) ([]domain.Document, error) {
	defer s.lock()()
	match, err := fieldEquals(field, value)
	if err != nil {
		return nil, err
	}
	return s.collect(inCollection(collection, match))
}

func (s *MemoryDocumentStore) QueryAll(_ context.Context, collection string) ([]domain.Document, error) {
	defer s.lock()()
	return s.collect(inCollection(collection, nil))
}

func (s *MemoryDocumentStore) QueryByReference(ctx context.Context, collection, refCollection, refField, refID string) ([]domain.Document, error) {
	return s.QueryByField(ctx, collection, refField, domain.NewRef(refCollection, refID))
}

func (s *MemoryDocumentStore) QueryByReferenceAndField(_ context.Context, collection string, ref domain.Ref, field string, value any) ([]domain.Document, error) {
	defer s.lock()()
	match, err := refAndField(ref, field, value)
	if err != nil {
		return nil, err
	}
	return s.collect(inCollection(collection, match))
}

func (s *MemoryDocumentStore) QueryByReferenceAndRange(_ context.Context, q RangeQuery) ([]domain.Document, error) {
	defer s.lock()()
	match, err := refAndRange(q)
	if err != nil {
		return nil, err
	}
	return s.collect(inCollection(q.Collection, match))
}

func (s *MemoryDocumentStore) CountByReferenceAndRange(_ context.Context, q RangeQuery) (int64, error) {
	defer s.lock()()
	match, err := refAndRange(q)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range s.state.docs {
		if doc.collection == q.Collection && match(doc) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryDocumentStore) UpdateWhere(_ context.Context, collection, field string, value any, patch map[string]any) (int64, error) {
	defer s.lock()()
	match, err := fieldEquals(field, value)
	if err != nil {
		return 0, err
	}
	return s.update(collection, match, patch)
}

func (s *MemoryDocumentStore) UpdateWhereRange(_ context.Context, collection, field string, after, before any, patch map[string]any) (int64, error) {
	defer s.lock()()
	match, err := fieldInRange(field, after, before)
	if err != nil {
		return 0, err
	}
	return s.update(collection, match, patch)
}

func (s *MemoryDocumentStore) DeleteWhere(_ context.Context, collection, field string, value any) (int64, error) {
	defer s.lock()()
	match, err := fieldEquals(field, value)
	if err != nil {
		return 0, err
	}
	return s.delete(collection, match)
}

func (s *MemoryDocumentStore) DeleteByReferenceAndRange(_ context.Context, q RangeQuery) (int64, error) {
	defer s.lock()()
	match, err := refAndRange(q)
	if err != nil {
		return 0, err
	}
	return s.delete(q.Collection, match)
}

func (s *MemoryDocumentStore) DeleteByReferenceAndField(_ context.Context, collection string, ref domain.Ref, field string, value any) (int64, error) {
	defer s.lock()()
	match, err := refAndField(ref, field, value)
	if err != nil {
		return 0, err
	}
	return s.delete(collection, match)
}

func (s *MemoryDocumentStore) QueryArrayContains(_ context.Context, collection, field string, value any) ([]domain.Document, error) {
	defer s.lock()()
	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	return s.collect(inCollection(collection, func(doc memoryDocument) bool {
		items, ok := doc.data[field].([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if reflect.DeepEqual(item, want) {
				return true
			}
		}
		return false
	}))
}

func (s *MemoryDocumentStore) QueryCollectionGroup(_ context.Context, name string) ([]domain.Document, error) {
	defer s.lock()()
	if err := requireCollection(name); err != nil {
		return nil, err
	}
	var out []domain.Document
	for _, doc := range s.state.docs {
		if doc.collection == name || strings.HasSuffix(doc.collection, "/"+name) {
			d, err := doc.toDocument()
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return nonNil(out), nil
}

func (s *MemoryDocumentStore) RunInTx(_ context.Context, fn func(DocumentStore) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &MemoryDocumentStore{mu: s.mu, state: s.state, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		s.state.docs = snapshot.docs
		return err
	}
	return nil
}

// Len devuelve la cantidad de documentos en collection.
func (s *MemoryDocumentStore) Len(collection string) int {
	defer s.lock()()
	n := 0
	for _, doc := range s.state.docs {
		if doc.collection == collection {
			n++
		}
	}
	return n
}

type matcher func(memoryDocument) bool

func inCollection(collection string, match matcher) func(memoryDocument) bool {
	return func(doc memoryDocument) bool {
		if doc.collection != collection {
			return false
		}
		return match == nil || match(doc)
	}
}

func (s *MemoryDocumentStore) collect(keep func(memoryDocument) bool) ([]domain.Document, error) {
	var out []domain.Document
	for _, doc := range s.state.docs {
		if !keep(doc) {
			continue
		}
		d, err := doc.toDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return nonNil(out), nil
}

func (s *MemoryDocumentStore) update(collection string, match matcher, patch map[string]any) (int64, error) {
	if err := requireCollection(collection); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("%w: empty patch", ErrInvalidArgument)
	}
	normalized, err := toObject(patch)
	if err != nil {
		return 0, err
	}
	next := s.state.clone()
	var n int64
	for i, doc := range next.docs {
		if doc.collection != collection || !match(doc) {
			continue
		}
		for k, v := range normalized {
			doc.data[k] = v
		}
		next.docs[i] = doc
		n++
	}
	for _, doc := range next.docs {
		if err := next.checkUniqueAgainst(doc); err != nil {
			return 0, err
		}
	}
	s.state.docs = next.docs
	return n, nil
}

func (s *MemoryDocumentStore) delete(collection string, match matcher) (int64, error) {
	if err := requireCollection(collection); err != nil {
		return 0, err
	}
	kept := make([]memoryDocument, 0, len(s.state.docs))
	var n int64
	for _, doc := range s.state.docs {
		if doc.collection == collection && match(doc) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	s.state.docs = kept
	return n, nil
}

func (s *MemoryDocumentStore) checkUnique(doc memoryDocument) error {
	return s.state.checkUniqueAgainst(doc)
}

// checkUniqueAgainst falla si otro documento de la coleccion comparte un campo unico con doc.
func (st *memoryState) checkUniqueAgainst(doc memoryDocument) error {
	for _, field := range st.unique[doc.collection] {
		v, ok := doc.data[field]
		if !ok || v == nil {
			continue
		}
		for _, other := range st.docs {
			if other.id == doc.id || other.collection != doc.collection {
				continue
			}
			if reflect.DeepEqual(other.data[field], v) {
				return fmt.Errorf("%w: %s.%s", ErrDuplicate, doc.collection, field)
			}
		}
	}
	return nil
}

func (st *memoryState) clone() *memoryState {
	docs := make([]memoryDocument, len(st.docs))
	for i, doc := range st.docs {
		data := make(map[string]any, len(doc.data))
		for k, v := range doc.data {
			data[k] = v
		}
		doc.data = data
		docs[i] = doc
	}
	return &memoryState{docs: docs, unique: st.unique}
}

func (d memoryDocument) toDocument() (domain.Document, error) {
	raw, err := json.Marshal(d.data)
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{ID: d.id, Collection: d.collection, Data: raw, CreatedAt: d.createdAt}, nil
}

func fieldEquals(field string, value any) (matcher, error) {
	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	return func(doc memoryDocument) bool {
		got, ok := doc.data[field]
		return ok && reflect.DeepEqual(got, want)
	}, nil
}

func refAndField(ref domain.Ref, field string, value any) (matcher, error) {
	byRef, err := fieldEquals(ref.Collection, ref)
	if err != nil {
		return nil, err
	}
	byField, err := fieldEquals(field, value)
	if err != nil {
		return nil, err
	}
	return func(doc memoryDocument) bool { return byRef(doc) && byField(doc) }, nil
}

func refAndRange(q RangeQuery) (matcher, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	byRef, err := fieldEquals(q.RefCollection, q.ref())
	if err != nil {
		return nil, err
	}
	inRange, err := fieldInRange(q.Field, q.After, q.Before)
	if err != nil {
		return nil, err
	}
	return func(doc memoryDocument) bool { return byRef(doc) && inRange(doc) }, nil
}

// fieldInRange compara con intervalo abierto; los documentos sin el campo o con
// un valor de otro tipo no califican.
func fieldInRange(field string, after, before any) (matcher, error) {
	kind, err := boundKindOf(after, before)
	if err != nil {
		return nil, err
	}
	switch kind {
	case boundTime:
		lo, hi := after.(time.Time), before.(time.Time)
		return func(doc memoryDocument) bool {
			s, ok := doc.data[field].(string)
			if !ok {
				return false
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			return err == nil && t.After(lo) && t.Before(hi)
		}, nil
	case boundNumber:
		lo, _ := toFloat(after)
		hi, _ := toFloat(before)
		return func(doc memoryDocument) bool {
			n, ok := doc.data[field].(float64)
			return ok && n > lo && n < hi
		}, nil
	case boundString:
		lo, hi := after.(string), before.(string)
		return func(doc memoryDocument) bool {
			s, ok := doc.data[field].(string)
			return ok && s > lo && s < hi
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported range bound type %T", ErrInvalidArgument, after)
	}
}

// normalize lleva v a la forma que tendria tras un roundtrip JSON.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonNil(docs []domain.Document) []domain.Document {
	if docs == nil {
		return []domain.Document{}
	}
	return docs
}
