package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"account-api/internal/domain"
)

var (
	// ErrDuplicate se devuelve cuando una escritura viola un indice unico.
	ErrDuplicate       = errors.New("duplicate document")
	ErrInvalidArgument = errors.New("invalid argument")
)

// DocumentStore define primitivas genericas sobre un store de colecciones.
// Ninguna operacion reintenta; cada mutacion se confirma al retornar salvo
// que se ejecute dentro de RunInTx.
type DocumentStore interface {
	Create(ctx context.Context, collection string, data any) (domain.DocumentRef, error)
	QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error)
	QueryAll(ctx context.Context, collection string) ([]domain.Document, error)
	StoreWithReference(ctx context.Context, collection string, data any, refs ...domain.Ref) (domain.DocumentRef, error)
	QueryByReference(ctx context.Context, collection, refCollection, refField, refID string) ([]domain.Document, error)
	QueryByReferenceAndField(ctx context.Context, collection string, ref domain.Ref, field string, value any) ([]domain.Document, error)
	QueryByReferenceAndRange(ctx context.Context, q RangeQuery) ([]domain.Document, error)
	CountByReferenceAndRange(ctx context.Context, q RangeQuery) (int64, error)
	UpdateWhere(ctx context.Context, collection, field string, value any, patch map[string]any) (int64, error)
	UpdateWhereRange(ctx context.Context, collection, field string, after, before any, patch map[string]any) (int64, error)
	DeleteWhere(ctx context.Context, collection, field string, value any) (int64, error)
	DeleteByReferenceAndRange(ctx context.Context, q RangeQuery) (int64, error)
	DeleteByReferenceAndField(ctx context.Context, collection string, ref domain.Ref, field string, value any) (int64, error)
	QueryArrayContains(ctx context.Context, collection, field string, value any) ([]domain.Document, error)
	QueryCollectionGroup(ctx context.Context, name string) ([]domain.Document, error)
	RunInTx(ctx context.Context, fn func(DocumentStore) error) error
}

// RangeQuery filtra Collection por igualdad contra la referencia
// RefCollection/RefID (guardada bajo el campo RefCollection) y por el
// intervalo abierto (After, Before) sobre Field.
type RangeQuery struct {
	Collection    string
	RefCollection string
	RefID         string
	Field         string
	After         any
	Before        any
}

func (q RangeQuery) ref() domain.Ref {
	return domain.NewRef(q.RefCollection, q.RefID)
}

func (q RangeQuery) validate() error {
	if strings.TrimSpace(q.Collection) == "" || strings.TrimSpace(q.Field) == "" {
		return fmt.Errorf("%w: range query needs collection and field", ErrInvalidArgument)
	}
	if q.RefCollection == "" || q.RefID == "" {
		return fmt.Errorf("%w: range query needs a reference", ErrInvalidArgument)
	}
	if q.After == nil || q.Before == nil {
		return fmt.Errorf("%w: range query needs both bounds", ErrInvalidArgument)
	}
	return nil
}

// withReferences serializa data a un objeto JSON y agrega un campo por cada
// referencia, nombrado como la coleccion referenciada. data no se modifica.
func withReferences(data any, refs []domain.Ref) (map[string]any, error) {
	if len(refs) == 0 || len(refs) > 2 {
		return nil, fmt.Errorf("%w: expected 1 or 2 references, got %d", ErrInvalidArgument, len(refs))
	}
	out, err := toObject(data)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.IsZero() {
			return nil, fmt.Errorf("%w: empty reference", ErrInvalidArgument)
		}
		out[ref.Collection] = ref
	}
	return out, nil
}

// toObject convierte data a un mapa nuevo via JSON.
func toObject(data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: document must be a JSON object", ErrInvalidArgument)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: document must be a JSON object", ErrInvalidArgument)
	}
	return out, nil
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(raw), nil
}

func requireCollection(collection string) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidArgument)
	}
	return nil
}
