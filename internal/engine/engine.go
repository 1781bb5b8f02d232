// Package engine is the surface a sync driver composes: entity saves and
// reads through the codecs, changelog helpers, attachment passthroughs and
// cascading deletes.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/JediahDizon/project-naa/internal/attach"
	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/migrate"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/session"
	"github.com/JediahDizon/project-naa/internal/store"
)

type Engine struct {
	Store     *store.Store
	Codecs    codec.Set
	Changelog changelog.Engine
	Attach    attach.Manager
	Config    *config.Config
	Log       logrus.FieldLogger
	Now       func() time.Time
}

type Options struct {
	Config  *config.Config
	Session session.Session
	// Hook migrates a store written by an older build.
	Hook   migrate.Hook
	Logger logrus.FieldLogger
	// FS holds attachment bytes. Nil means the session's filesystem.
	FS     afero.Fs
	Sharer attach.Sharer
}

// Open opens the session's store and wires the components over it.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := logging.OrDiscard(opts.Logger)
	s, err := store.Open(ctx, store.Options{Session: opts.Session, Hook: opts.Hook, Logger: log})
	if err != nil {
		return nil, err
	}
	return New(s, cfg, opts.FS, opts.Sharer, log), nil
}

// New wires an engine over an open store.
func New(s *store.Store, cfg *config.Config, fs afero.Fs, sharer attach.Sharer, log logrus.FieldLogger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	log = logging.OrDiscard(log)
	sess := s.Session()
	r := paths.Resolver{Root: sess.Root, UserHash: sess.UserHash}
	cl := changelog.New(s, r, log)
	attCfg := cfg.Attachments
	if attCfg.ShareDir == "" {
		attCfg.ShareDir = cfg.ShareDir()
	}
	att := attach.New(fs, s, cl, attCfg, log)
	att.Sharer = sharer
	return &Engine{
		Store:     s,
		Codecs:    codec.New(r),
		Changelog: cl,
		Attach:    att,
		Config:    cfg,
		Log:       log,
		Now:       time.Now,
	}
}

func (e *Engine) Close() error {
	return e.Store.Close()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Changelog.Now = now
	e.Attach.Changelog.Now = now
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// --- projects ---

// stripDataURI drops a data:...;base64, prefix from an inline file.
func stripDataURI(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}

func prepareProject(p domain.Project) domain.Project {
	p.ID = newID(p.ID)
	if p.Files == nil {
		return p
	}
	files := make([]domain.File, 0, len(p.Files))
	for _, f := range p.Files {
		f.BinaryFile = stripDataURI(f.BinaryFile)
		if f.BinaryFile == "" {
			continue
		}
		f.ID = newID(f.ID)
		if f.ProjectID == "" {
			f.ProjectID = p.ID
		}
		files = append(files, f)
	}
	p.Files = files
	return p
}

// SaveProjects upserts projects in one write. Inline project files without
// content are dropped.
func (e *Engine) SaveProjects(ctx context.Context, projects []domain.Project) ([]domain.Project, error) {
	out := make([]domain.Project, len(projects))
	err := e.Store.Update(ctx, []string{domain.TableProject}, func(tx *store.Tx) error {
		for i, p := range projects {
			out[i] = prepareProject(p)
			if err := codec.Save(ctx, tx, e.Codecs.Project, out[i]); err != nil {
				return fmt.Errorf("save project %s: %w", out[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) SaveProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	saved, err := e.SaveProjects(ctx, []domain.Project{p})
	if err != nil {
		return domain.Project{}, err
	}
	return saved[0], nil
}

func (e *Engine) GetProjects(ctx context.Context) ([]domain.Project, error) {
	return codec.List(ctx, e.Store, e.Codecs.Project, nil, store.OrderBy("name", false))
}

func (e *Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return codec.Load(ctx, e.Store, e.Codecs.Project, id)
}

// DeleteProject removes a project and everything hanging off it. The order
// is attachments, then changelog entries, then records, so an interrupted
// delete never leaves a record pointing at a removed file.
func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	p, err := e.GetProject(ctx, id)
	if err != nil {
		return err
	}
	taskIDs := p.TaskIDs()
	log := e.Log.WithFields(logrus.Fields{"table": domain.TableProject, "id": id})

	files, err := e.Attach.DeleteByProject(ctx, id, taskIDs)
	if err != nil {
		return fmt.Errorf("delete attachments of project %s: %w", id, err)
	}
	ids := append([]string{id}, taskIDs...)
	logs, err := e.Changelog.Purge(ctx, ids, taskIDs)
	if err != nil {
		return fmt.Errorf("delete changelog of project %s: %w", id, err)
	}
	err = e.Store.Update(ctx, []string{domain.TableProject, domain.TableTask, domain.TableFormValues}, func(tx *store.Tx) error {
		if _, err := tx.Delete(ctx, domain.TableFormValues, store.InStrings("id", taskIDs)); err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, domain.TableTask, store.InStrings("id", taskIDs)); err != nil {
			return err
		}
		return tx.DeleteByID(ctx, domain.TableProject, id)
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"tasks": len(taskIDs), "files": files, "logs": logs}).Info("project deleted")
	return nil
}

// --- tasks ---

func (e *Engine) SaveTasks(ctx context.Context, tasks []domain.Task) ([]domain.Task, error) {
	out := make([]domain.Task, len(tasks))
	err := e.Store.Update(ctx, []string{domain.TableTask}, func(tx *store.Tx) error {
		for i, t := range tasks {
			t.ID = newID(t.ID)
			out[i] = t
			if err := codec.Save(ctx, tx, e.Codecs.Task, t); err != nil {
				return fmt.Errorf("save task %s: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) SaveTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	saved, err := e.SaveTasks(ctx, []domain.Task{t})
	if err != nil {
		return domain.Task{}, err
	}
	return saved[0], nil
}

// GetTask returns the canonical task. MergedTask gives the edited view.
func (e *Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return codec.Load(ctx, e.Store, e.Codecs.Task, id)
}

func (e *Engine) MergedTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Changelog.MergedTask(ctx, e.Codecs.Task, id)
}

func (e *Engine) GetTasks(ctx context.Context, ids ...string) ([]domain.Task, error) {
	var p store.Predicate
	if len(ids) > 0 {
		p = store.InStrings("id", ids)
	}
	return codec.List(ctx, e.Store, e.Codecs.Task, p)
}

// GetTasksByProject returns the project's tasks in the project's order.
// Tasks the project lists but that are not stored are skipped.
func (e *Engine) GetTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ids := p.TaskIDs()
	found, err := e.GetTasks(ctx, ids...)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Task{}, nil
	}
	byID := make(map[string]domain.Task, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// DeleteTask removes a task with its attachments, changelog entries and
// form values, in that order.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	if _, err := e.GetTask(ctx, id); err != nil {
		return err
	}
	if _, err := e.Attach.DeleteByTask(ctx, id); err != nil {
		return fmt.Errorf("delete attachments of task %s: %w", id, err)
	}
	if _, err := e.Changelog.Purge(ctx, []string{id}, []string{id}); err != nil {
		return fmt.Errorf("delete changelog of task %s: %w", id, err)
	}
	return e.Store.Update(ctx, []string{domain.TableTask, domain.TableFormValues}, func(tx *store.Tx) error {
		if _, err := tx.Delete(ctx, domain.TableFormValues, store.ID(id)); err != nil {
			return err
		}
		return tx.DeleteByID(ctx, domain.TableTask, id)
	})
}

// UnlinkedTasks returns tasks that exist only as changelog entries and
// belong to no project.
func (e *Engine) UnlinkedTasks(ctx context.Context) ([]domain.Task, error) {
	return e.Changelog.UnlinkedTasks(ctx, e.Codecs.Project)
}
