package codec

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/store"
)

// LogCodec stores changelog entries. The data payload is kept as compact
// JSON; for image logs its uri is rewritten like any other attachment path.
type LogCodec struct{ Paths paths.Resolver }

func (LogCodec) Table() string { return domain.TableLog }

func (c LogCodec) Encode(l domain.Log) (store.Record, error) {
	if !l.Status.Valid() {
		return nil, &domain.ValidationError{Field: "Log.status", Reason: "unknown status " + l.Status.String()}
	}
	if l.Timestamp.IsZero() {
		return nil, &domain.ValidationError{Field: "Log.timestamp", Reason: "required"}
	}
	data, err := compact(l.Data)
	if err != nil {
		return nil, err
	}
	if l.TableName == domain.TableImage {
		if data, err = c.rewriteURI(data, c.Paths.LogToken); err != nil {
			return nil, err
		}
	}
	rec := store.Record{
		"id":        l.ID,
		"timestamp": l.Timestamp,
		"status":    int64(l.Status),
		"data":      string(data),
	}
	optional(rec, map[string]string{
		"tableName": l.TableName,
		"message":   l.Message,
	})
	errs, err := encodeStrings(l.Errors)
	if err != nil {
		return nil, err
	}
	rec["errors"] = errs
	return rec, nil
}

func (c LogCodec) Decode(rec store.Record) (domain.Log, error) {
	data := []byte(rec.String("data"))
	if !json.Valid(data) {
		data = []byte(Null)
	}
	l := domain.Log{
		ID:        rec.String("id"),
		Timestamp: rec.Time("timestamp"),
		TableName: rec.String("tableName"),
		Status:    domain.Status(rec.Int("status")),
		Message:   rec.String("message"),
		Data:      json.RawMessage(data),
		Errors:    decodeStrings(rec.String("errors")),
	}
	if l.TableName == domain.TableImage {
		resolve := func(_, token string) string { return c.Paths.Resolve(token) }
		if rewritten, err := c.rewriteURI(data, resolve); err == nil {
			l.Data = rewritten
		}
	}
	return l, nil
}

// rewriteURI maps data.uri through fn, keyed by data.taskId.
func (c LogCodec) rewriteURI(data []byte, fn func(owner, path string) string) ([]byte, error) {
	uri := gjson.GetBytes(data, "uri")
	if uri.Type != gjson.String || uri.Str == "" {
		return data, nil
	}
	owner := gjson.GetBytes(data, "taskId").String()
	out, err := sjson.SetBytes(data, "uri", fn(owner, uri.Str))
	if err != nil {
		return nil, &domain.ValidationError{Field: "Log.data.uri", Reason: err.Error()}
	}
	return out, nil
}

func compact(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte(Null), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, &domain.ValidationError{Field: "Log.data", Reason: "invalid JSON: " + err.Error()}
	}
	return buf.Bytes(), nil
}
