package codec

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/session"
	"github.com/JediahDizon/project-naa/internal/store"
)

func openStore(t *testing.T) (*store.Store, Set) {
	t.Helper()
	sess, _, err := session.AddLogin(nil, t.TempDir(), config.PlatformAndroid, domain.User{Username: "tech"}, "pw")
	require.NoError(t, err)
	s, err := store.Open(context.Background(), store.Options{Session: sess})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, New(paths.Resolver{Root: sess.Root, UserHash: sess.UserHash})
}

// doc builds a document the way JSON decoding would, numbers as float64.
func doc(t *testing.T, s string) domain.Document {
	t.Helper()
	var d domain.Document
	require.NoError(t, json.Unmarshal([]byte(s), &d))
	return d
}

func TestTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)
	closable := true

	in := domain.Task{
		ID:         "t1",
		Name:       "Inspect well",
		Status:     "open",
		CanClose:   &closable,
		Files:      []domain.File{{ID: "f1", Name: "plan.pdf", Size: 40, TaskID: "t1"}},
		Form:       doc(t, `{"components":[{"key":"a"}],"display":"form"}`),
		TaskDDS:    doc(t, `{"depth":12.5}`),
		PhotoTypes: domain.List{"before", "after"},
	}

	require.NoError(t, Save(ctx, s, c.Task, in))
	require.NoError(t, Save(ctx, s, c.Task, in))

	all, err := List(ctx, s, c.Task, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, in, all[0])
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := TaskCodec{}
	task := domain.Task{ID: "t1", Form: domain.Document{"z": 1.0, "a": domain.Document{"y": 2.0, "b": 3.0}}}

	first, err := c.Encode(task)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Encode(task)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, `{"a":{"b":3,"y":2},"z":1}`, first["form"])
	assert.Equal(t, Null, first["schema"])
}

func TestLenientDecode(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)

	require.NoError(t, s.Create(ctx, domain.TableFormValues, store.Record{
		"id":          "fv1",
		"key":         "inspection",
		"values":      "{broken",
		"attachments": "[1,",
		"progress":    "",
	}, true))

	fv, err := Load(ctx, s, c.FormValues, "fv1")
	require.NoError(t, err)
	assert.Equal(t, domain.Document{}, fv.Values)
	assert.Equal(t, domain.List{}, fv.Attachments)
	assert.Equal(t, domain.Document{}, fv.Progress)
	assert.Equal(t, domain.Document{}, fv.Well)
}

func TestNullRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)

	in := domain.FormValues{ID: "fv1", Key: "inspection", Values: doc(t, `{"a":1}`)}
	require.NoError(t, Save(ctx, s, c.FormValues, in))

	rec, err := s.Get(ctx, domain.TableFormValues, "fv1")
	require.NoError(t, err)
	assert.Equal(t, Null, rec.String("alerts"))

	out, err := Load(ctx, s, c.FormValues, "fv1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestImageURIResolution(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)
	dir := c.Image.Paths.Dir()

	in := domain.Image{
		ID:          "img1",
		TaskID:      "t1",
		URI:         filepath.Join(dir, "t1", "photo.jpg"),
		FileName:    "photo.jpg",
		FileSize:    2048,
		ContentType: "image/jpeg",
		CanChange:   true,
		JSONDetails: doc(t, `{"caption":"north"}`),
	}
	require.NoError(t, Save(ctx, s, c.Image, in))

	rec, err := s.Get(ctx, domain.TableImage, "img1")
	require.NoError(t, err)
	assert.Equal(t, "t1/photo.jpg", rec.String("uri"))

	out, err := Load(ctx, s, c.Image, "img1")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	moved := ImageCodec{Paths: paths.Resolver{Root: "/reinstalled", UserHash: c.Image.Paths.UserHash}}
	relocated, err := moved.Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/reinstalled", c.Image.Paths.UserHash, "t1", "photo.jpg"), relocated.URI)
	assert.Equal(t, relocated.URI, moved.Paths.Resolve(relocated.URI))
}

func TestImageRequiresTask(t *testing.T) {
	_, err := ImageCodec{}.Encode(domain.Image{ID: "img1"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestProjectTaskRefs(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)

	in := domain.Project{
		ID:    "p1",
		Name:  "North field",
		Tasks: []domain.TaskRef{{ID: "t1", Name: "Inspect"}, {ID: "t2"}},
		Files: []domain.File{},
	}
	require.NoError(t, Save(ctx, s, c.Project, in))
	out, err := Load(ctx, s, c.Project, "p1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, []string{"t1", "t2"}, out.TaskIDs())

	require.NoError(t, s.Create(ctx, domain.TableProject, store.Record{"id": "p2", "tasks": `["t3","t4"]`}, true))
	old, err := Load(ctx, s, c.Project, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t4"}, old.TaskIDs())
}

func TestLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)
	dir := c.Log.Paths.Dir()

	in := domain.Log{
		ID:        "img1",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		TableName: domain.TableImage,
		Status:    domain.StatusFailure,
		Message:   "upload failed",
		Data:      json.RawMessage(`{"id":"img1","taskId":"t1","uri":"` + filepath.ToSlash(filepath.Join(dir, "t1", "Log", "photo.jpg")) + `"}`),
		Errors:    []string{"timeout"},
	}
	require.NoError(t, Save(ctx, s, c.Log, in))

	rec, err := s.Get(ctx, domain.TableLog, "img1")
	require.NoError(t, err)
	assert.Contains(t, rec.String("data"), `"uri":"t1/Log/photo.jpg"`)

	out, err := Load(ctx, s, c.Log, "img1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLogRejectsBadInput(t *testing.T) {
	c := LogCodec{}
	_, err := c.Encode(domain.Log{ID: "l1", Timestamp: time.Now(), Status: domain.Status(9)})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.Encode(domain.Log{ID: "l1", Timestamp: time.Now(), Data: json.RawMessage(`{nope`)})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSyncAndTranslation(t *testing.T) {
	ctx := context.Background()
	s, c := openStore(t)

	rec := domain.SyncRecord{
		ID:        "s1",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		TableName: domain.TableTask,
		Model:     doc(t, `{"pulled":3}`),
		Errors:    []string{},
		Type:      domain.SyncPush,
	}
	require.NoError(t, Save(ctx, s, c.Sync, rec))
	got, err := Load(ctx, s, c.Sync, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	tr := domain.Translation{Locale: "fr", Translation: doc(t, `{"save":"Enregistrer"}`)}
	require.NoError(t, Save(ctx, s, c.Translation, tr))
	gotTr, err := Load(ctx, s, c.Translation, "fr")
	require.NoError(t, err)
	assert.Equal(t, tr, gotTr)
}

func TestSetCoversEveryTable(t *testing.T) {
	set := New(paths.Resolver{Root: "/docs", UserHash: "u"})
	tables := []string{
		set.Project.Table(),
		set.Task.Table(),
		set.File.Table(),
		set.FormFile.Table(),
		set.Image.Table(),
		set.FormDefinition.Table(),
		set.FormValues.Table(),
		set.Log.Table(),
		set.Translation.Table(),
		set.Sync.Table(),
	}
	assert.ElementsMatch(t, store.Tables(), tables)
	assert.Equal(t, "/docs", set.Image.Paths.Root)
	assert.Equal(t, "u", set.Log.Paths.UserHash)
}
