package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/engine"
	"github.com/JediahDizon/project-naa/internal/remote"
	"github.com/JediahDizon/project-naa/internal/session"
)

type fakeSource struct {
	records map[string][]string
	files   map[string]remote.File
	reject  map[string]error
	since   map[string][]time.Time
	pushed  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records: map[string][]string{},
		files:   map[string]remote.File{},
		reject:  map[string]error{},
		since:   map[string][]time.Time{},
	}
}

func (f *fakeSource) Login(context.Context, string, string) (remote.Identity, error) {
	return remote.Identity{Subject: "u-1"}, nil
}

func (f *fakeSource) EntitiesChangedSince(_ context.Context, table string, since time.Time) ([]json.RawMessage, error) {
	f.since[table] = append(f.since[table], since)
	var out []json.RawMessage
	for _, r := range f.records[table] {
		out = append(out, json.RawMessage(r))
	}
	return out, nil
}

func (f *fakeSource) PushChange(_ context.Context, table string, record json.RawMessage) error {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(record, &v); err != nil {
		return err
	}
	if err := f.reject[v.ID]; err != nil {
		return err
	}
	f.pushed = append(f.pushed, table+"/"+v.ID)
	return nil
}

func (f *fakeSource) FetchFile(_ context.Context, id string) (remote.File, error) {
	file, ok := f.files[id]
	if !ok {
		return remote.File{}, &remote.APIError{StatusCode: 404, Body: "no file"}
	}
	return file, nil
}

type testEnv struct {
	ctx context.Context
	eng *engine.Engine
	src *fakeSource
	s   Syncer
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	sess, _, err := session.AddLogin(nil, t.TempDir(), config.PlatformIOS, domain.User{Username: "tech"}, "pw")
	require.NoError(t, err)
	eng, err := engine.Open(ctx, engine.Options{Session: sess})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	eng.SetClock(tick)
	src := newFakeSource()
	s := New(eng, src, nil)
	s.Now = tick
	return testEnv{ctx: ctx, eng: eng, src: src, s: s}
}

func TestPullSavesRecordsAndAdvances(t *testing.T) {
	env := newTestEnv(t)
	env.src.records[domain.TableProject] = []string{`{"id":"p1","name":"Pad 7","tasks":[{"id":"t1"}]}`}
	env.src.records[domain.TableTask] = []string{`{"id":"t1","name":"Inspect"}`, `not json`}
	env.src.records[domain.TableImage] = []string{
		`{"id":"img1","taskId":"t1","fileName":"site.jpg"}`,
		`{"id":"img2","taskId":"t1"}`,
	}
	env.src.files["img1"] = remote.File{Name: "site.jpg", Data: []byte("jpeg bytes")}

	res, err := env.s.Run(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed())

	tasks, err := env.eng.GetTasksByProject(env.ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Inspect", tasks[0].Name)

	imgs, err := env.eng.GetImages(env.ctx, "t1")
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.FileExists(t, imgs[0].URI)
	assert.NoDirExists(t, filepath.Join(env.eng.Attach.Paths.Dir(), "download", "img1"))

	// Clean tables advance; tables with failures pull from the same point.
	_, err = env.s.Run(env.ctx)
	require.NoError(t, err)
	projectSince := env.src.since[domain.TableProject]
	require.Len(t, projectSince, 2)
	assert.True(t, projectSince[0].IsZero())
	assert.False(t, projectSince[1].IsZero())
	taskSince := env.src.since[domain.TableTask]
	assert.True(t, taskSince[1].IsZero())

	logs, err := env.eng.GetSyncLogs(env.ctx, domain.TableTask)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Len(t, logs[0].Errors, 1)
}

func TestPushResolvesAndFails(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.AddTaskLog(env.ctx, domain.Task{ID: "t1", Name: "edited"}, "", false)
	require.NoError(t, err)
	_, err = env.eng.AddFormValueLog(env.ctx, domain.FormValues{ID: "t2", Key: "k"}, "", false)
	require.NoError(t, err)
	_, err = env.eng.AddTaskLog(env.ctx, domain.Task{ID: "held"}, "", false)
	require.NoError(t, err)
	require.NoError(t, env.eng.Changelog.SetStatus(env.ctx, "held", domain.StatusHold, ""))
	_, err = env.eng.AddTaskLog(env.ctx, domain.Task{ID: "dropped"}, "", false)
	require.NoError(t, err)
	require.NoError(t, env.eng.Changelog.SetStatus(env.ctx, "dropped", domain.StatusCancelled, "user cancelled"))
	env.src.reject["t2"] = errors.New("remote said no")

	feed, err := env.eng.Changelog.Pending(env.ctx)
	require.NoError(t, err)
	require.Len(t, feed, 3)

	results, err := env.s.Push(env.ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"Task/t1", "Task/dropped"}, env.src.pushed)

	for _, id := range []string{"t1", "dropped"} {
		_, err = env.eng.Changelog.GetLog(env.ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	failed, err := env.eng.Changelog.GetLog(env.ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailure, failed.Status)
	assert.Equal(t, []string{"remote said no"}, failed.Errors)
	held, err := env.eng.Changelog.GetLog(env.ctx, "held")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHold, held.Status)

	// A failed log is resubmitted on the next push.
	delete(env.src.reject, "t2")
	_, err = env.s.Push(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Task/t1", "Task/dropped", "FormValues/t2"}, env.src.pushed)
	_, err = env.eng.Changelog.GetLog(env.ctx, "t2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.eng.Close())
	_, err := env.s.Run(env.ctx)
	assert.Error(t, err)
}
