package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Document es la unidad nativa del document store.
type Document struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Decode deserializa Data en v.
func (d Document) Decode(v any) error {
	if len(d.Data) == 0 {
		return errors.New("document has no data")
	}
	return json.Unmarshal(d.Data, v)
}

// DocumentRef identifica un documento recien creado.
type DocumentRef struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
}

// Path devuelve "<collection>/<id>".
func (r DocumentRef) Path() string {
	return r.Collection + "/" + r.ID
}

// Ref apunta a un documento de otra coleccion por un id en string.
type Ref struct {
	Collection string
	ID         string
}

func NewRef(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

func (r Ref) IsZero() bool {
	return r.Collection == "" || r.ID == ""
}

type refJSON struct {
	Ref string `json:"$ref"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{Ref: r.Path()})
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var raw refJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	idx := strings.LastIndex(raw.Ref, "/")
	if idx <= 0 || idx == len(raw.Ref)-1 {
		return errors.New("invalid document reference: " + raw.Ref)
	}
	r.Collection = raw.Ref[:idx]
	r.ID = raw.Ref[idx+1:]
	return nil
}
