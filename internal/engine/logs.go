package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/store"
)

func (e *Engine) addLog(ctx context.Context, table string, data any, message string, overwrite bool) (domain.Log, error) {
	if overwrite {
		return e.Changelog.PutLog(ctx, table, data, message)
	}
	return e.Changelog.AddLog(ctx, table, data, message)
}

// AddTaskLog records an edited task. Without overwrite a second log for the
// same task is a conflict.
func (e *Engine) AddTaskLog(ctx context.Context, t domain.Task, message string, overwrite bool) (domain.Log, error) {
	t.ID = newID(t.ID)
	return e.addLog(ctx, domain.TableTask, t, message, overwrite)
}

func (e *Engine) AddFormValueLog(ctx context.Context, v domain.FormValues, message string, overwrite bool) (domain.Log, error) {
	if v.ID == "" {
		return domain.Log{}, &domain.ValidationError{Field: "FormValues.id", Reason: "required"}
	}
	return e.addLog(ctx, domain.TableFormValues, v, message, overwrite)
}

func (e *Engine) AddProjectLog(ctx context.Context, p domain.Project, message string, overwrite bool) (domain.Log, error) {
	p.ID = newID(p.ID)
	return e.addLog(ctx, domain.TableProject, p, message, overwrite)
}

// --- sync bookkeeping ---

// AddSyncLog records one sync run against one table.
func (e *Engine) AddSyncLog(ctx context.Context, r domain.SyncRecord) (domain.SyncRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now()
	}
	if err := codec.Save(ctx, e.Store, e.Codecs.Sync, r); err != nil {
		return domain.SyncRecord{}, fmt.Errorf("save sync log: %w", err)
	}
	return r, nil
}

// GetSyncLogs returns sync runs, newest first, optionally for one table.
func (e *Engine) GetSyncLogs(ctx context.Context, table string) ([]domain.SyncRecord, error) {
	var p store.Predicate
	if table != "" {
		p = store.Eq("tableName", table)
	}
	return codec.List(ctx, e.Store, e.Codecs.Sync, p, store.OrderBy("timestamp", true))
}

// LastSync returns the newest sync run of a kind for a table that finished
// without errors, if any.
func (e *Engine) LastSync(ctx context.Context, table string, typ domain.SyncType) (domain.SyncRecord, bool, error) {
	recs, err := codec.List(ctx, e.Store, e.Codecs.Sync,
		store.And(store.Eq("tableName", table), store.Eq("type", int64(typ))),
		store.OrderBy("timestamp", true))
	if err != nil {
		return domain.SyncRecord{}, false, err
	}
	for _, r := range recs {
		if len(r.Errors) == 0 {
			return r, true, nil
		}
	}
	return domain.SyncRecord{}, false, nil
}

func (e *Engine) ClearSyncLogs(ctx context.Context) (int64, error) {
	return e.Store.Delete(ctx, domain.TableSync, nil)
}

// --- translations ---

func (e *Engine) SaveTranslations(ctx context.Context, ts []domain.Translation) error {
	return e.Store.Update(ctx, []string{domain.TableTranslation}, func(tx *store.Tx) error {
		for _, t := range ts {
			if t.Locale == "" {
				return &domain.ValidationError{Field: "Translation.locale", Reason: "required"}
			}
			if err := codec.Save(ctx, tx, e.Codecs.Translation, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) GetTranslations(ctx context.Context) ([]domain.Translation, error) {
	return codec.List(ctx, e.Store, e.Codecs.Translation, nil)
}

func (e *Engine) GetTranslation(ctx context.Context, locale string) (domain.Translation, error) {
	return codec.Load(ctx, e.Store, e.Codecs.Translation, locale)
}
