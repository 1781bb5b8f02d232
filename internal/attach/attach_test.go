package attach

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/session"
	"github.com/JediahDizon/project-naa/internal/store"
)

type testEnv struct {
	ctx context.Context
	m   Manager
	src string
}

func newTestEnv(t *testing.T, platform config.Platform) testEnv {
	t.Helper()
	ctx := context.Background()
	sess, _, err := session.AddLogin(nil, t.TempDir(), platform, domain.User{Username: "tech"}, "pw")
	require.NoError(t, err)
	s, err := store.Open(ctx, store.Options{Session: sess})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default().Attachments
	r := paths.Resolver{Root: sess.Root, UserHash: sess.UserHash}
	m := New(nil, s, changelog.New(s, r, nil), cfg, nil)
	return testEnv{ctx: ctx, m: m, src: t.TempDir()}
}

func (env testEnv) writePNG(t *testing.T, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(env.src, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func (env testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(env.src, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSaveImage(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	src := env.writePNG(t, "photo.png", 600, 400)

	img, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img1", TaskID: "t1", CanChange: true}, src)
	require.NoError(t, err)

	want := filepath.Join(env.m.Paths.OwnerDir("t1"), "img1.png")
	assert.Equal(t, want, img.URI)
	assert.Equal(t, "photo.png", img.FileName)
	assert.Equal(t, "image/png", img.ContentType)
	assert.FileExists(t, want)
	assert.FileExists(t, src)

	raw, err := base64.StdEncoding.DecodeString(img.Thumbnail)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	stored, err := env.m.Images(env.ctx, "t1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, img, stored[0])
}

func TestSaveMissingSource(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	_, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img1", TaskID: "t1"}, filepath.Join(env.src, "nope.jpg"))
	var nf *domain.FileNotFoundError
	require.ErrorAs(t, err, &nf)

	imgs, err := env.m.Images(env.ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, imgs)
}

func TestThumbnailDegrades(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)

	corrupt := env.writeFile(t, "broken.jpg", "not an image")
	img, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img1", TaskID: "t1"}, corrupt)
	require.NoError(t, err)
	assert.Empty(t, img.Thumbnail)
	assert.EqualValues(t, len("not an image"), img.FileSize)

	env.m.Config.Thumbnail.MaxSourceBytes = 10
	big := env.writePNG(t, "big.png", 50, 50)
	img, err = env.m.SaveImage(env.ctx, domain.Image{ID: "img2", TaskID: "t1"}, big)
	require.NoError(t, err)
	assert.Empty(t, img.Thumbnail)
}

func TestSaveFormFile(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	src := env.writeFile(t, "report.pdf", "%PDF-1.4")

	f, err := env.m.SaveFormFile(env.ctx, domain.FormFile{ID: "ff1", TaskID: "t1", Prop: "permit"}, src)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.ContentType)
	assert.EqualValues(t, 8, f.Size)

	files, err := env.m.FormFiles(env.ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []domain.FormFile{f}, files)
}

func TestSaveInPlaceIsNoop(t *testing.T) {
	env := newTestEnv(t, config.PlatformIOS)
	src := env.writeFile(t, "a.txt", "hello")
	f, err := env.m.SaveFormFile(env.ctx, domain.FormFile{ID: "ff1", TaskID: "t1"}, src)
	require.NoError(t, err)

	again, err := env.m.SaveFormFile(env.ctx, domain.FormFile{ID: "ff1", TaskID: "t1"}, f.URI)
	require.NoError(t, err)
	assert.Equal(t, f.URI, again.URI)
	data, err := os.ReadFile(f.URI)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOverwriteQuirks(t *testing.T) {
	for _, tc := range []struct {
		platform   config.Platform
		sharedSeen string
	}{
		// Android writes through the existing destination.
		{config.PlatformAndroid, "new"},
		// iOS unlinks it first, so a file it pointed at is untouched.
		{config.PlatformIOS, "shared"},
	} {
		t.Run(string(tc.platform), func(t *testing.T) {
			env := newTestEnv(t, tc.platform)
			dir := env.m.Paths.OwnerDir("t1")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			shared := env.writeFile(t, "shared.txt", "shared")
			require.NoError(t, os.Symlink(shared, filepath.Join(dir, "ff1.txt")))

			src := env.writeFile(t, "doc.txt", "new")
			f, err := env.m.SaveFormFile(env.ctx, domain.FormFile{ID: "ff1", TaskID: "t1"}, src)
			require.NoError(t, err)

			data, err := os.ReadFile(f.URI)
			require.NoError(t, err)
			assert.Equal(t, "new", string(data))
			data, err = os.ReadFile(shared)
			require.NoError(t, err)
			assert.Equal(t, tc.sharedSeen, string(data))
		})
	}
}

func TestSaveBatchIsolatesFailures(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	items := []Item{
		{Source: env.writePNG(t, "a.png", 20, 20), Image: &domain.Image{ID: "a", TaskID: "t1"}},
		{Source: filepath.Join(env.src, "missing.png"), Image: &domain.Image{ID: "b", TaskID: "t1"}},
		{Source: env.writeFile(t, "c.pdf", "pdf"), FormFile: &domain.FormFile{ID: "c", TaskID: "t2"}},
	}

	saved, errs := env.m.SaveBatch(env.ctx, items)
	assert.Equal(t, 2, saved)
	require.Len(t, errs, 1)
	var nf *domain.FileNotFoundError
	require.True(t, errors.As(errs[0], &nf))
	assert.Contains(t, errs[0].Error(), "(b)")

	imgs, err := env.m.Images(env.ctx, "t1")
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "a", imgs[0].ID)
	assert.FileExists(t, imgs[0].URI)

	files, err := env.m.FormFiles(env.ctx, "t2")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.FileExists(t, files[0].URI)
}

func TestSaveCancelled(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	src := env.writeFile(t, "a.txt", "hello")
	ctx, cancel := context.WithCancel(env.ctx)
	cancel()

	_, err := env.m.SaveFormFile(ctx, domain.FormFile{ID: "ff1", TaskID: "t1"}, src)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(env.m.Paths.OwnerDir("t1"), "ff1.txt"))
}

func TestDeleteRemovesFiles(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	img, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img1", TaskID: "t1"}, env.writePNG(t, "a.png", 10, 10))
	require.NoError(t, err)
	f, err := env.m.SaveFormFile(env.ctx, domain.FormFile{ID: "ff1", TaskID: "t1"}, env.writeFile(t, "b.pdf", "x"))
	require.NoError(t, err)

	require.NoError(t, env.m.DeleteImage(env.ctx, "img1"))
	assert.NoFileExists(t, img.URI)
	require.ErrorIs(t, env.m.DeleteImage(env.ctx, "img1"), domain.ErrNotFound)

	require.NoError(t, os.Remove(f.URI))
	require.NoError(t, env.m.DeleteFormFile(env.ctx, "ff1"))
	files, err := env.m.FormFiles(env.ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDeleteByTask(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	a, err := env.m.SaveImage(env.ctx, domain.Image{ID: "a", TaskID: "t1"}, env.writePNG(t, "a.png", 10, 10))
	require.NoError(t, err)
	b, err := env.m.SaveImage(env.ctx, domain.Image{ID: "b", TaskID: "t1"}, env.writePNG(t, "b.png", 10, 10))
	require.NoError(t, err)
	l, err := env.m.SaveImageLog(env.ctx, domain.Image{ID: "a", TaskID: "t1"}, env.writePNG(t, "edit.png", 10, 10))
	require.NoError(t, err)
	edited, err := decodeImage(l)
	require.NoError(t, err)
	_, err = env.m.SaveImage(env.ctx, domain.Image{ID: "c", TaskID: "t2"}, env.writePNG(t, "c.png", 10, 10))
	require.NoError(t, err)

	n, err := env.m.DeleteByTask(env.ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, a.URI)
	assert.NoFileExists(t, b.URI)
	assert.NoFileExists(t, edited.URI)
	assert.NoDirExists(t, env.m.Paths.OwnerDir("t1"))

	left, err := env.m.Images(env.ctx, "t1", "t2")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "c", left[0].ID)
}

func TestImageLog(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	orig, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img1", TaskID: "t1"}, env.writePNG(t, "photo.png", 10, 10))
	require.NoError(t, err)

	l, err := env.m.SaveImageLog(env.ctx, domain.Image{ID: "img1", TaskID: "t1"}, env.writePNG(t, "photo.png", 20, 20))
	require.NoError(t, err)
	assert.Equal(t, domain.TableImage, l.TableName)
	assert.Equal(t, domain.StatusPending, l.Status)

	logged, err := decodeImage(l)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.m.Paths.OwnerLogDir("t1"), "img1.png"), logged.URI)
	assert.Equal(t, "photo.png", logged.FileName)
	assert.FileExists(t, logged.URI)
	assert.FileExists(t, orig.URI)

	canonical, err := env.m.Images(env.ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Image{orig}, canonical)

	require.NoError(t, env.m.DeleteImageLog(env.ctx, "img1"))
	assert.NoFileExists(t, logged.URI)
	assert.FileExists(t, orig.URI)
}

func TestSameFileNameKeepsFilesApart(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	first, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img1", TaskID: "t1", FileName: "image.jpg"}, env.writeFile(t, "a.jpg", "AAAA"))
	require.NoError(t, err)
	second, err := env.m.SaveImage(env.ctx, domain.Image{ID: "img2", TaskID: "t1", FileName: "image.jpg"}, env.writeFile(t, "b.jpg", "BBBBBBBB"))
	require.NoError(t, err)

	assert.NotEqual(t, first.URI, second.URI)
	assert.Equal(t, "image.jpg", first.FileName)
	assert.Equal(t, "image.jpg", second.FileName)
	data, err := os.ReadFile(first.URI)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(data))

	require.NoError(t, env.m.DeleteImage(env.ctx, "img2"))
	assert.NoFileExists(t, second.URI)
	assert.FileExists(t, first.URI)

	l1, err := env.m.SaveImageLog(env.ctx, domain.Image{ID: "img1", TaskID: "t1", FileName: "image.jpg"}, env.writeFile(t, "c.jpg", "CC"))
	require.NoError(t, err)
	l3, err := env.m.SaveImageLog(env.ctx, domain.Image{ID: "img3", TaskID: "t1", FileName: "image.jpg"}, env.writeFile(t, "d.jpg", "DDD"))
	require.NoError(t, err)
	a, err := decodeImage(l1)
	require.NoError(t, err)
	b, err := decodeImage(l3)
	require.NoError(t, err)
	assert.NotEqual(t, a.URI, b.URI)
	data, err = os.ReadFile(a.URI)
	require.NoError(t, err)
	assert.Equal(t, "CC", string(data))
}

type recordingSharer struct {
	path, title, text string
}

func (r *recordingSharer) SharePath(_ context.Context, path string) error {
	r.path = path
	return nil
}

func (r *recordingSharer) ShareText(_ context.Context, title, text string) error {
	r.title, r.text = title, text
	return nil
}

func TestExportShare(t *testing.T) {
	env := newTestEnv(t, config.PlatformAndroid)
	sharer := &recordingSharer{}
	env.m.Sharer = sharer
	env.m.Config.ShareDir = t.TempDir()

	l, err := env.m.SaveImageLog(env.ctx, domain.Image{ID: "img1", TaskID: "t1"}, env.writePNG(t, "photo.png", 10, 10))
	require.NoError(t, err)
	require.NoError(t, env.m.ExportShare(env.ctx, l))
	assert.Equal(t, filepath.Join(env.m.Config.ShareDir, "photo.png"), sharer.path)
	assert.FileExists(t, sharer.path)

	tl, err := env.m.Changelog.AddLog(env.ctx, domain.TableTask, domain.Task{ID: "t1", Name: "Inspect"}, "")
	require.NoError(t, err)
	require.NoError(t, env.m.ExportShare(env.ctx, tl))
	assert.Equal(t, "Task t1", sharer.title)
	assert.Contains(t, sharer.text, `"name": "Inspect"`)
	assert.Contains(t, sharer.text, `"status": "pending"`)
}

func TestInMemoryFS(t *testing.T) {
	env := newTestEnv(t, config.PlatformIOS)
	mem := afero.NewMemMapFs()
	env.m.FS = mem
	src := "/camera/shot.txt"
	require.NoError(t, afero.WriteFile(mem, src, []byte("bytes"), 0o644))

	f, err := env.m.SaveFormFile(env.ctx, domain.FormFile{ID: "ff1", TaskID: "t1"}, src)
	require.NoError(t, err)
	data, err := afero.ReadFile(mem, f.URI)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
	assert.NoFileExists(t, f.URI)
}
