// Package syncer runs one reconcile cycle between the local engine and a
// remote source: pull changed records table by table, then push pending
// changelog entries. Failures are recorded per item and never abort the
// cycle. Retry policy belongs to whoever calls Run.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/engine"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/remote"
)

// PullTables is the default pull order. Parents come before the records
// that point at them.
var PullTables = []string{
	domain.TableTranslation,
	domain.TableFormDefinition,
	domain.TableProject,
	domain.TableTask,
	domain.TableFormValues,
	domain.TableImage,
	domain.TableFormFiles,
}

type Syncer struct {
	Engine *engine.Engine
	Source remote.Source
	Tables []string
	Log    logrus.FieldLogger
	Now    func() time.Time
}

func New(e *engine.Engine, src remote.Source, log logrus.FieldLogger) Syncer {
	return Syncer{Engine: e, Source: src, Tables: PullTables, Log: logging.OrDiscard(log), Now: time.Now}
}

func (s Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Syncer) logger() logrus.FieldLogger {
	return logging.OrDiscard(s.Log)
}

// TableResult is what one table contributed to a cycle.
type TableResult struct {
	Table  string
	Type   domain.SyncType
	Count  int
	Failed int
	Errors []error
}

// MarshalJSON spells errors out as their messages.
func (t TableResult) MarshalJSON() ([]byte, error) {
	msgs := make([]string, 0, len(t.Errors))
	for _, err := range t.Errors {
		msgs = append(msgs, err.Error())
	}
	dir := "pull"
	if t.Type == domain.SyncPush {
		dir = "push"
	}
	return json.Marshal(struct {
		Table  string   `json:"table"`
		Type   string   `json:"type"`
		Count  int      `json:"count"`
		Failed int      `json:"failed"`
		Errors []string `json:"errors"`
	}{t.Table, dir, t.Count, t.Failed, msgs})
}

type Result struct {
	Pulled []TableResult `json:"pulled"`
	Pushed []TableResult `json:"pushed"`
}

// Failed counts failed items across the cycle.
func (r Result) Failed() int {
	n := 0
	for _, t := range append(append([]TableResult(nil), r.Pulled...), r.Pushed...) {
		n += t.Failed
	}
	return n
}

// Run pulls every configured table and then pushes pending changes. It only
// returns an error when the cycle could not run at all.
func (s Syncer) Run(ctx context.Context) (Result, error) {
	if err := s.Engine.Store.Initialized(ctx); err != nil {
		return Result{}, err
	}
	var res Result
	tables := s.Tables
	if len(tables) == 0 {
		tables = PullTables
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tr, err := s.Pull(ctx, table)
		if err != nil {
			return res, err
		}
		res.Pulled = append(res.Pulled, tr)
	}
	pushed, err := s.Push(ctx)
	res.Pushed = pushed
	return res, err
}

// Pull fetches the records of table changed since its last clean pull and
// saves them. The run is recorded as a Sync row whichever way it goes.
func (s Syncer) Pull(ctx context.Context, table string) (TableResult, error) {
	start := s.now()
	tr := TableResult{Table: table, Type: domain.SyncPull}
	var since time.Time
	last, ok, err := s.Engine.LastSync(ctx, table, domain.SyncPull)
	if err != nil {
		return tr, err
	}
	if ok {
		since = last.Timestamp
	}
	log := s.logger().WithFields(logrus.Fields{"table": table, "since": since})

	recs, err := s.Source.EntitiesChangedSince(ctx, table, since)
	if err != nil {
		tr.Failed = 1
		tr.Errors = []error{fmt.Errorf("fetch %s: %w", table, err)}
	}
	for i, raw := range recs {
		if err := s.apply(ctx, table, raw); err != nil {
			tr.Failed++
			tr.Errors = append(tr.Errors, fmt.Errorf("%s record %d: %w", table, i, err))
			continue
		}
		tr.Count++
	}
	if err := s.record(ctx, start, tr, domain.Document{"since": since.Format(time.RFC3339Nano)}); err != nil {
		return tr, err
	}
	log.WithFields(logrus.Fields{"saved": tr.Count, "failed": tr.Failed}).Info("pulled")
	return tr, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (s Syncer) apply(ctx context.Context, table string, raw json.RawMessage) error {
	e := s.Engine
	switch table {
	case domain.TableProject:
		p, err := decode[domain.Project](raw)
		if err != nil {
			return err
		}
		_, err = e.SaveProject(ctx, p)
		return err
	case domain.TableTask:
		t, err := decode[domain.Task](raw)
		if err != nil {
			return err
		}
		_, err = e.SaveTask(ctx, t)
		return err
	case domain.TableFormDefinition:
		d, err := decode[domain.FormDefinition](raw)
		if err != nil {
			return err
		}
		return e.SaveFormDefinitions(ctx, []domain.FormDefinition{d})
	case domain.TableFormValues:
		v, err := decode[domain.FormValues](raw)
		if err != nil {
			return err
		}
		return e.SaveFormValues(ctx, []domain.FormValues{v})
	case domain.TableTranslation:
		t, err := decode[domain.Translation](raw)
		if err != nil {
			return err
		}
		return e.SaveTranslations(ctx, []domain.Translation{t})
	case domain.TableImage:
		img, err := decode[domain.Image](raw)
		if err != nil {
			return err
		}
		src, cleanup, err := s.download(ctx, img.ID, img.FileName)
		if err != nil {
			return err
		}
		defer cleanup()
		img.URI = ""
		_, err = e.SaveImage(ctx, img, src)
		return err
	case domain.TableFormFiles:
		f, err := decode[domain.FormFile](raw)
		if err != nil {
			return err
		}
		src, cleanup, err := s.download(ctx, f.ID, f.Name)
		if err != nil {
			return err
		}
		defer cleanup()
		f.URI = ""
		_, err = e.SaveFormFile(ctx, f, src)
		return err
	}
	return &domain.ValidationError{Field: "table", Reason: fmt.Sprintf("%s cannot be pulled", table)}
}

// download stages a remote file in the namespace so the attachment manager
// can copy it into place.
func (s Syncer) download(ctx context.Context, id, name string) (string, func(), error) {
	if id == "" {
		return "", nil, &domain.ValidationError{Field: "id", Reason: "required"}
	}
	f, err := s.Source.FetchFile(ctx, id)
	if err != nil {
		return "", nil, fmt.Errorf("fetch file %s: %w", id, err)
	}
	if name == "" {
		name = f.Name
	}
	fs := s.Engine.Attach.FS
	dir := filepath.Join(s.Engine.Attach.Paths.Dir(), "download", id)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", nil, &domain.FileIOError{Op: "mkdir", Path: dir, Err: err}
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := afero.WriteFile(fs, path, f.Data, 0o644); err != nil {
		return "", nil, &domain.FileIOError{Op: "write", Path: path, Err: err}
	}
	return path, func() {
		if err := fs.RemoveAll(dir); err != nil {
			s.logger().WithField("path", dir).WithError(err).Warn("could not remove download")
		}
	}, nil
}

// Push sends the changelog's pending feed, oldest first. HOLD logs stay
// local until released. A confirmed log is
// resolved; a rejected one is marked FAILURE with the remote's error. One
// Sync row is written per table touched.
func (s Syncer) Push(ctx context.Context) ([]TableResult, error) {
	start := s.now()
	cl := s.Engine.Changelog
	logs, err := cl.Pending(ctx)
	if err != nil {
		return nil, err
	}
	byTable := map[string]*TableResult{}
	var order []string
	for _, l := range logs {
		if err := ctx.Err(); err != nil {
			return collect(byTable, order), err
		}
		tr, ok := byTable[l.TableName]
		if !ok {
			tr = &TableResult{Table: l.TableName, Type: domain.SyncPush}
			byTable[l.TableName] = tr
			order = append(order, l.TableName)
		}
		if err := s.pushOne(ctx, l); err != nil {
			tr.Failed++
			tr.Errors = append(tr.Errors, fmt.Errorf("%s %s: %w", l.TableName, l.ID, err))
			continue
		}
		tr.Count++
	}
	out := collect(byTable, order)
	for _, tr := range out {
		if err := s.record(ctx, start, tr, nil); err != nil {
			return out, err
		}
		s.logger().WithFields(logrus.Fields{"table": tr.Table, "pushed": tr.Count, "failed": tr.Failed}).Info("pushed")
	}
	return out, nil
}

func (s Syncer) pushOne(ctx context.Context, l domain.Log) error {
	cl := s.Engine.Changelog
	if l.Status != domain.StatusPending {
		if err := cl.SetStatus(ctx, l.ID, domain.StatusPending, ""); err != nil {
			return err
		}
	}
	if err := s.Source.PushChange(ctx, l.TableName, l.Data); err != nil {
		if ferr := cl.Fail(ctx, l.ID, err); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	if l.TableName == domain.TableImage {
		return s.Engine.Attach.DeleteImageLog(ctx, l.ID)
	}
	return cl.SetStatus(ctx, l.ID, domain.StatusSuccess, "")
}

func collect(byTable map[string]*TableResult, order []string) []TableResult {
	out := make([]TableResult, 0, len(order))
	for _, t := range order {
		out = append(out, *byTable[t])
	}
	return out
}

func (s Syncer) record(ctx context.Context, at time.Time, tr TableResult, model domain.Document) error {
	if model == nil {
		model = domain.Document{}
	}
	model["count"] = tr.Count
	model["failed"] = tr.Failed
	var errs []string
	for _, err := range tr.Errors {
		errs = append(errs, err.Error())
	}
	_, err := s.Engine.AddSyncLog(ctx, domain.SyncRecord{
		Timestamp: at,
		TableName: tr.Table,
		Model:     model,
		Errors:    errs,
		Type:      tr.Type,
	})
	return err
}
