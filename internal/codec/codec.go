// Package codec converts between domain entities and flat store records.
//
// Nested documents are kept as JSON text. Encoding is deterministic and an
// absent document is written as the literal null. Decoding is lenient: text
// that does not parse reads as an empty document or list, so rows written
// under an older layout still load.
package codec

import (
	"context"
	"encoding/json"

	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/store"
)

// Null is what an absent nested field is stored as.
const Null = "null"

// Codec maps one entity type to the rows of its table.
type Codec[T any] interface {
	Table() string
	Encode(T) (store.Record, error)
	Decode(store.Record) (T, error)
}

// Reader is satisfied by *store.Store and *store.Tx.
type Reader interface {
	Get(ctx context.Context, table, id string) (store.Record, error)
	Query(ctx context.Context, table string, p store.Predicate, opts ...store.QueryOption) ([]store.Record, error)
}

// Writer is satisfied by *store.Store and *store.Tx.
type Writer interface {
	Create(ctx context.Context, table string, rec store.Record, upsert bool) error
}

// Save upserts v.
func Save[T any](ctx context.Context, w Writer, c Codec[T], v T) error {
	rec, err := c.Encode(v)
	if err != nil {
		return err
	}
	return w.Create(ctx, c.Table(), rec, true)
}

// Insert writes v, failing with a ConflictError when its key is taken.
func Insert[T any](ctx context.Context, w Writer, c Codec[T], v T) error {
	rec, err := c.Encode(v)
	if err != nil {
		return err
	}
	return w.Create(ctx, c.Table(), rec, false)
}

func Load[T any](ctx context.Context, r Reader, c Codec[T], id string) (T, error) {
	rec, err := r.Get(ctx, c.Table(), id)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Decode(rec)
}

// List decodes every row matching p.
func List[T any](ctx context.Context, r Reader, c Codec[T], p store.Predicate, opts ...store.QueryOption) ([]T, error) {
	recs, err := r.Query(ctx, c.Table(), p, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := c.Decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Set holds one codec per entity, sharing a path resolver.
type Set struct {
	Project        ProjectCodec
	Task           TaskCodec
	File           FileCodec
	FormFile       FormFileCodec
	Image          ImageCodec
	FormDefinition FormDefinitionCodec
	FormValues     FormValuesCodec
	Log            LogCodec
	Translation    TranslationCodec
	Sync           SyncCodec
}

func New(r paths.Resolver) Set {
	return Set{
		Project:        ProjectCodec{Paths: r},
		Task:           TaskCodec{Paths: r},
		File:           FileCodec{Paths: r},
		FormFile:       FormFileCodec{Paths: r},
		Image:          ImageCodec{Paths: r},
		FormDefinition: FormDefinitionCodec{},
		FormValues:     FormValuesCodec{Paths: r},
		Log:            LogCodec{Paths: r},
		Translation:    TranslationCodec{},
		Sync:           SyncCodec{},
	}
}

// encodeJSON writes v as compact JSON. Map keys come out sorted, so equal
// values always encode to equal text.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeDoc(d domain.Document) (string, error) {
	if d == nil {
		return Null, nil
	}
	return encodeJSON(d)
}

func encodeList(l domain.List) (string, error) {
	if l == nil {
		return Null, nil
	}
	return encodeJSON(l)
}

// decodeDoc reads null back as nil and anything unparsable as empty.
func decodeDoc(s string) domain.Document {
	if s == Null {
		return nil
	}
	var d domain.Document
	if err := json.Unmarshal([]byte(s), &d); err != nil || d == nil {
		return domain.Document{}
	}
	return d
}

func decodeList(s string) domain.List {
	if s == Null {
		return nil
	}
	var l domain.List
	if err := json.Unmarshal([]byte(s), &l); err != nil || l == nil {
		return domain.List{}
	}
	return l
}

func decodeStrings(s string) []string {
	if s == Null {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// docFields encodes a batch of nested documents into rec.
func docFields(rec store.Record, docs map[string]domain.Document) error {
	for k, d := range docs {
		s, err := encodeDoc(d)
		if err != nil {
			return &domain.ValidationError{Field: k, Reason: err.Error()}
		}
		rec[k] = s
	}
	return nil
}

func listFields(rec store.Record, lists map[string]domain.List) error {
	for k, l := range lists {
		s, err := encodeList(l)
		if err != nil {
			return &domain.ValidationError{Field: k, Reason: err.Error()}
		}
		rec[k] = s
	}
	return nil
}

// optional leaves empty strings out of the record so they stay NULL.
func optional(rec store.Record, fields map[string]string) {
	for k, v := range fields {
		if v != "" {
			rec[k] = v
		}
	}
}
