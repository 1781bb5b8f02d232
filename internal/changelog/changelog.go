// Package changelog records local mutations that the remote side has not
// confirmed yet. Each log is keyed by the id of the entity it changes and
// carries a full snapshot of the proposed entity; canonical records are never
// touched. Reads can overlay a log on its canonical record.
package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/store"
)

type Status = domain.Status

type Engine struct {
	Store *store.Store
	Codec codec.LogCodec
	Log   logrus.FieldLogger
	Now   func() time.Time
}

func New(s *store.Store, r paths.Resolver, log logrus.FieldLogger) Engine {
	return Engine{
		Store: s,
		Codec: codec.LogCodec{Paths: r},
		Log:   logging.OrDiscard(log),
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() logrus.FieldLogger {
	return logging.OrDiscard(e.Log)
}

// snapshot marshals an entity and makes sure it carries an id.
func snapshot(data any) (string, json.RawMessage, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return "", nil, &domain.ValidationError{Field: "Log.data", Reason: err.Error()}
		}
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return "", nil, &domain.ValidationError{Field: "Log.data", Reason: "must be a JSON object"}
	}
	id := gjson.GetBytes(raw, "id").String()
	if id == "" {
		id = uuid.NewString()
		var err error
		if raw, err = sjson.SetBytes(raw, "id", id); err != nil {
			return "", nil, err
		}
	}
	return id, raw, nil
}

// AddLog records a PENDING change to an entity of table. It fails with a
// ConflictError when a log for that entity already exists.
func (e Engine) AddLog(ctx context.Context, table string, data any, message string) (domain.Log, error) {
	id, raw, err := snapshot(data)
	if err != nil {
		return domain.Log{}, err
	}
	l := domain.Log{
		ID:        id,
		Timestamp: e.now(),
		TableName: table,
		Status:    domain.StatusPending,
		Message:   message,
		Data:      raw,
		Errors:    []string{},
	}
	if err := codec.Insert(ctx, e.Store, e.Codec, l); err != nil {
		return domain.Log{}, err
	}
	e.logger().WithFields(logrus.Fields{"table": table, "id": id}).Debug("changelog added")
	return e.GetLog(ctx, id)
}

// PutLog is AddLog that replaces an existing log for the entity.
func (e Engine) PutLog(ctx context.Context, table string, data any, message string) (domain.Log, error) {
	id, raw, err := snapshot(data)
	if err != nil {
		return domain.Log{}, err
	}
	l := domain.Log{
		ID:        id,
		Timestamp: e.now(),
		TableName: table,
		Status:    domain.StatusPending,
		Message:   message,
		Data:      raw,
		Errors:    []string{},
	}
	if err := codec.Save(ctx, e.Store, e.Codec, l); err != nil {
		return domain.Log{}, err
	}
	return e.GetLog(ctx, id)
}

// UpdateLog replaces the data and message of an existing log and puts it
// back to PENDING. The id and the error history are kept.
func (e Engine) UpdateLog(ctx context.Context, table string, data any, message string) (domain.Log, error) {
	id, raw, err := snapshot(data)
	if err != nil {
		return domain.Log{}, err
	}
	err = e.Store.Update(ctx, []string{domain.TableLog}, func(tx *store.Tx) error {
		l, err := codec.Load(ctx, tx, e.Codec, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(l.Status, domain.StatusPending) {
			return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("log %s is %s and cannot be resubmitted", id, l.Status)}
		}
		l.TableName = table
		l.Data = raw
		l.Message = message
		l.Status = domain.StatusPending
		l.Timestamp = e.now()
		return codec.Save(ctx, tx, e.Codec, l)
	})
	if err != nil {
		return domain.Log{}, err
	}
	return e.GetLog(ctx, id)
}

// SetStatus moves a log to status. SUCCESS and DELETED remove the log. An
// empty message keeps the current one.
func (e Engine) SetStatus(ctx context.Context, id string, status Status, message string) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown status " + status.String()}
	}
	return e.Store.Update(ctx, []string{domain.TableLog}, func(tx *store.Tx) error {
		l, err := codec.Load(ctx, tx, e.Codec, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(l.Status, status) {
			return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot move log %s from %s to %s", id, l.Status, status)}
		}
		fields := logrus.Fields{"table": l.TableName, "id": id, "from": l.Status.String(), "to": status.String()}
		if status.Terminal() {
			e.logger().WithFields(fields).Debug("changelog resolved")
			return tx.DeleteByID(ctx, domain.TableLog, id)
		}
		l.Status = status
		if message != "" {
			l.Message = message
		}
		e.logger().WithFields(fields).Debug("changelog status")
		return codec.Save(ctx, tx, e.Codec, l)
	})
}

// Fail marks a log FAILURE with cause as its message and appends cause to
// its error history.
func (e Engine) Fail(ctx context.Context, id string, cause error) error {
	if cause == nil {
		return &domain.ValidationError{Field: "error", Reason: "required"}
	}
	return e.Store.Update(ctx, []string{domain.TableLog}, func(tx *store.Tx) error {
		l, err := codec.Load(ctx, tx, e.Codec, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(l.Status, domain.StatusFailure) {
			return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot fail log %s in status %s", id, l.Status)}
		}
		l.Status = domain.StatusFailure
		l.Message = cause.Error()
		l.Errors = append(l.Errors, cause.Error())
		e.logger().WithFields(logrus.Fields{"table": l.TableName, "id": id}).WithError(cause).Warn("changelog failed")
		return codec.Save(ctx, tx, e.Codec, l)
	})
}

func (e Engine) GetLog(ctx context.Context, id string) (domain.Log, error) {
	return codec.Load(ctx, e.Store, e.Codec, id)
}

// Filter selects logs. Zero fields match everything.
type Filter struct {
	Tables   []string
	Statuses []Status
}

func (f Filter) predicate() store.Predicate {
	var ps []store.Predicate
	if len(f.Tables) > 0 {
		ps = append(ps, store.InStrings("tableName", f.Tables))
	}
	if len(f.Statuses) > 0 {
		vs := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vs[i] = int64(s)
		}
		ps = append(ps, store.In("status", vs...))
	}
	if len(ps) == 0 {
		return nil
	}
	return store.And(ps...)
}

// Logs returns matching logs, oldest first.
func (e Engine) Logs(ctx context.Context, f Filter) ([]domain.Log, error) {
	return codec.List(ctx, e.Store, e.Codec, f.predicate(), store.OrderBy("timestamp", false))
}

// OutstandingStatuses are the statuses Pending returns.
func OutstandingStatuses() []Status {
	var out []Status
	for _, s := range domain.Statuses() {
		if s.Outstanding() {
			out = append(out, s)
		}
	}
	return out
}

// Pending is the sync driver's feed: every outstanding log, optionally
// limited to some tables, oldest first.
func (e Engine) Pending(ctx context.Context, tables ...string) ([]domain.Log, error) {
	return e.Logs(ctx, Filter{Tables: tables, Statuses: OutstandingStatuses()})
}

// DeleteLog discards a log whatever its status.
func (e Engine) DeleteLog(ctx context.Context, id string) error {
	return e.Store.Update(ctx, []string{domain.TableLog}, func(tx *store.Tx) error {
		return tx.DeleteByID(ctx, domain.TableLog, id)
	})
}

// DeleteLogs discards every log of table, or every log when table is empty.
func (e Engine) DeleteLogs(ctx context.Context, table string) (int64, error) {
	var p store.Predicate
	if table != "" {
		p = store.Eq("tableName", table)
	}
	return e.Store.Delete(ctx, domain.TableLog, p)
}

// Purge discards the logs of the given entity ids and every log whose
// payload belongs to one of taskIDs, such as image and form file logs.
func (e Engine) Purge(ctx context.Context, ids, taskIDs []string) (int64, error) {
	owned := map[string]bool{}
	for _, id := range taskIDs {
		owned[id] = true
	}
	var n int64
	err := e.Store.Update(ctx, []string{domain.TableLog}, func(tx *store.Tx) error {
		victims := append([]string(nil), ids...)
		if len(owned) > 0 {
			logs, err := codec.List(ctx, tx, e.Codec, nil)
			if err != nil {
				return err
			}
			for _, l := range logs {
				if owned[gjson.GetBytes(l.Data, "taskId").String()] {
					victims = append(victims, l.ID)
				}
			}
		}
		var err error
		n, err = tx.Delete(ctx, domain.TableLog, store.InStrings("id", victims))
		return err
	})
	return n, err
}

// DecodeData decodes a log's payload into the entity type of its table.
func DecodeData[T any](l domain.Log) (T, error) {
	var v T
	if len(l.Data) == 0 || gjson.ParseBytes(l.Data).Type == gjson.Null {
		return v, nil
	}
	if err := json.Unmarshal(l.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s log %s: %w", l.TableName, l.ID, err)
	}
	return v, nil
}
