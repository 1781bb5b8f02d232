package engine_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JediahDizon/project-naa/internal/attach"
	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/engine"
	"github.com/JediahDizon/project-naa/internal/session"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Src    string
	Shared *bytes.Buffer
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	sess, _, err := session.AddLogin(nil, t.TempDir(), config.PlatformAndroid, domain.User{Username: "tech"}, "pw")
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Attachments.ShareDir = t.TempDir()
	var shared bytes.Buffer
	eng, err := engine.Open(ctx, engine.Options{Config: cfg, Session: sess, Sharer: attach.WriterSharer{W: &shared}})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return testEnv{Engine: eng, Ctx: ctx, Src: t.TempDir(), Shared: &shared}
}

func (env testEnv) writePNG(t *testing.T, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(env.Src, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func (env testEnv) seedProject(t *testing.T) domain.Project {
	t.Helper()
	_, err := env.Engine.SaveTasks(env.Ctx, []domain.Task{{ID: "t1", Name: "Inspect"}, {ID: "t2", Name: "Report"}})
	require.NoError(t, err)
	p, err := env.Engine.SaveProject(env.Ctx, domain.Project{
		ID:    "p1",
		Name:  "Pad 7",
		Tasks: []domain.TaskRef{{ID: "t2"}, {ID: "t1"}},
	})
	require.NoError(t, err)
	return p
}

func TestSaveProjectFiltersInlineFiles(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SaveProject(env.Ctx, domain.Project{
		Name: "Pad 7",
		Files: []domain.File{
			{ID: "f1", Name: "a.pdf", BinaryFile: "data:application/pdf;base64,QUJD"},
			{ID: "f2", Name: "empty.pdf"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	got, err := env.Engine.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "QUJD", got.Files[0].BinaryFile)
	assert.Equal(t, p.ID, got.Files[0].ProjectID)
}

func TestTasksByProjectKeepProjectOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t)

	tasks, err := env.Engine.GetTasksByProject(env.Ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.Equal(t, "t1", tasks[1].ID)

	_, err = env.Engine.GetTasksByProject(env.Ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteProjectCascades(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t)
	ctx := env.Ctx
	e := env.Engine

	require.NoError(t, e.SaveFormValues(ctx, []domain.FormValues{{ID: "t1", Key: "inspection"}}))
	img1, err := e.SaveImage(ctx, domain.Image{TaskID: "t1", FileName: "one.png"}, env.writePNG(t, "one.png"))
	require.NoError(t, err)
	img2, err := e.SaveImage(ctx, domain.Image{TaskID: "t1", FileName: "two.png"}, env.writePNG(t, "two.png"))
	require.NoError(t, err)
	_, err = e.SaveImageLog(ctx, domain.Image{ID: img1.ID, TaskID: "t1"}, env.writePNG(t, "edit.png"))
	require.NoError(t, err)
	_, err = e.AddTaskLog(ctx, domain.Task{ID: "t1", Name: "Inspect again"}, "", false)
	require.NoError(t, err)
	_, err = e.AddFormValueLog(ctx, domain.FormValues{ID: "t2", Key: "report"}, "", false)
	require.NoError(t, err)
	_, err = e.AddProjectLog(ctx, domain.Project{ID: "p1", Name: "Pad 8"}, "", false)
	require.NoError(t, err)
	// Belongs to no project and must survive.
	_, err = e.AddTaskLog(ctx, domain.Task{ID: "other"}, "", false)
	require.NoError(t, err)

	require.NoError(t, e.DeleteProject(ctx, "p1"))

	for _, path := range []string{img1.URI, img2.URI} {
		assert.NoFileExists(t, path)
	}
	logs, err := e.Changelog.Logs(ctx, changelog.Filter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "other", logs[0].ID)

	_, err = e.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.GetFormValue(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	imgs, err := e.GetImages(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, imgs)
	assert.NoDirExists(t, e.Attach.Paths.OwnerDir("t1"))
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t)
	e := env.Engine

	img, err := e.SaveImage(env.Ctx, domain.Image{TaskID: "t1"}, env.writePNG(t, "one.png"))
	require.NoError(t, err)
	_, err = e.AddTaskLog(env.Ctx, domain.Task{ID: "t1"}, "", false)
	require.NoError(t, err)

	require.NoError(t, e.DeleteTask(env.Ctx, "t1"))
	assert.NoFileExists(t, img.URI)
	_, err = e.Changelog.GetLog(env.Ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.GetTask(env.Ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.GetTask(env.Ctx, "t2")
	assert.NoError(t, err)

	assert.ErrorIs(t, e.DeleteTask(env.Ctx, "t1"), domain.ErrNotFound)
}

func TestFormDefinitionByTask(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	require.NoError(t, e.SaveFormDefinitions(env.Ctx, []domain.FormDefinition{
		{Key: "inspection", Name: "Inspection", Form: domain.Document{"fields": []any{"a"}}},
	}))
	require.NoError(t, e.SaveFormValues(env.Ctx, []domain.FormValues{{ID: "t1", Key: "inspection"}}))

	def, err := e.GetFormDefinitionByTask(env.Ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Inspection", def.Name)

	_, err = e.GetFormDefinitionByTask(env.Ctx, "t9")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, e.DeleteFormDefinition(env.Ctx, "inspection"))
	defs, err := e.GetFormDefinitions(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestFormValuesMergedAndByProject(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t)
	e := env.Engine
	require.NoError(t, e.SaveFormValues(env.Ctx, []domain.FormValues{
		{ID: "t1", Key: "inspection", Values: domain.Document{"a": float64(1), "b": float64(2)}},
		{ID: "elsewhere", Key: "inspection"},
	}))
	_, err := e.AddFormValueLog(env.Ctx, domain.FormValues{ID: "t1", Key: "inspection", Values: domain.Document{"b": float64(3)}}, "", false)
	require.NoError(t, err)

	v, err := e.GetFormValue(env.Ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.Document{"a": float64(1), "b": float64(3)}, v.Values)

	byProject, err := e.GetFormValuesByProject(env.Ctx, "p1")
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, "t1", byProject[0].ID)

	_, err = e.AddFormValueLog(env.Ctx, domain.FormValues{ID: "t1", Key: "inspection"}, "", false)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = e.AddFormValueLog(env.Ctx, domain.FormValues{ID: "t1", Key: "inspection"}, "", true)
	assert.NoError(t, err)
}

func TestDeleteFormValue(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	require.NoError(t, e.SaveFormValues(env.Ctx, []domain.FormValues{{ID: "t1", Key: "inspection"}}))
	img, err := e.SaveImage(env.Ctx, domain.Image{TaskID: "t1"}, env.writePNG(t, "one.png"))
	require.NoError(t, err)
	_, err = e.AddFormValueLog(env.Ctx, domain.FormValues{ID: "t1", Key: "inspection"}, "", false)
	require.NoError(t, err)

	require.NoError(t, e.DeleteFormValue(env.Ctx, "t1"))
	assert.NoFileExists(t, img.URI)
	_, err = e.GetImage(env.Ctx, img.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.Changelog.GetLog(env.Ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.GetFormValue(env.Ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncLogs(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	first, err := e.AddSyncLog(env.Ctx, domain.SyncRecord{TableName: domain.TableTask, Type: domain.SyncPull})
	require.NoError(t, err)
	second, err := e.AddSyncLog(env.Ctx, domain.SyncRecord{TableName: domain.TableTask, Type: domain.SyncPush, Errors: []string{"boom"}})
	require.NoError(t, err)
	_, err = e.AddSyncLog(env.Ctx, domain.SyncRecord{TableName: domain.TableProject, Type: domain.SyncPull})
	require.NoError(t, err)

	logs, err := e.GetSyncLogs(env.Ctx, domain.TableTask)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, second.ID, logs[0].ID)
	assert.Equal(t, first.ID, logs[1].ID)
	assert.Equal(t, []string{"boom"}, logs[0].Errors)

	last, ok, err := e.LastSync(env.Ctx, domain.TableTask, domain.SyncPull)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, last.ID)

	n, err := e.ClearSyncLogs(env.Ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	_, ok, err = e.LastSync(env.Ctx, domain.TableTask, domain.SyncPull)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTranslations(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	require.NoError(t, e.SaveTranslations(env.Ctx, []domain.Translation{
		{Locale: "en", Translation: domain.Document{"hello": "Hello"}},
		{Locale: "fr", Translation: domain.Document{"hello": "Bonjour"}},
	}))
	fr, err := e.GetTranslation(env.Ctx, "fr")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", fr.Translation["hello"])

	all, err := e.GetTranslations(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = e.SaveTranslations(env.Ctx, []domain.Translation{{}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUnlinkedTasks(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t)
	e := env.Engine
	_, err := e.AddTaskLog(env.Ctx, domain.Task{ID: "t1", Name: "linked"}, "", false)
	require.NoError(t, err)
	_, err = e.AddTaskLog(env.Ctx, domain.Task{ID: "new", Name: "created offline"}, "", false)
	require.NoError(t, err)

	tasks, err := e.UnlinkedTasks(env.Ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "created offline", tasks[0].Name)
}

func TestExportLog(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddTaskLog(env.Ctx, domain.Task{ID: "t1", Name: "Inspect"}, "", false)
	require.NoError(t, err)
	require.NoError(t, e.ExportLog(env.Ctx, "t1"))
	assert.Contains(t, env.Shared.String(), `"tableName": "Task"`)

	assert.ErrorIs(t, e.ExportLog(env.Ctx, "missing"), domain.ErrNotFound)
}
