// Package attach owns the files behind Image and FormFiles records: copying
// them into the user namespace, deriving thumbnails, and removing them when
// their records go.
package attach

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/store"
)

type Manager struct {
	FS            afero.Fs
	Store         *store.Store
	Paths         paths.Resolver
	ImageCodec    codec.ImageCodec
	FormFileCodec codec.FormFileCodec
	Changelog     changelog.Engine
	Resizer       Resizer
	Sharer        Sharer
	Platform      config.Platform
	Config        config.Attachments
	Log           logrus.FieldLogger
}

// New wires a manager for the session behind s. fs is where attachment
// bytes live; nil means the session's filesystem.
func New(fs afero.Fs, s *store.Store, cl changelog.Engine, cfg config.Attachments, log logrus.FieldLogger) Manager {
	sess := s.Session()
	if fs == nil {
		fs = sess.FS()
	}
	r := paths.Resolver{Root: sess.Root, UserHash: sess.UserHash}
	return Manager{
		FS:            fs,
		Store:         s,
		Paths:         r,
		ImageCodec:    codec.ImageCodec{Paths: r},
		FormFileCodec: codec.FormFileCodec{Paths: r},
		Changelog:     cl,
		Resizer:       ImagingResizer{},
		Platform:      sess.Platform,
		Config:        cfg,
		Log:           logging.OrDiscard(log),
	}
}

func (m Manager) logger() logrus.FieldLogger {
	return logging.OrDiscard(m.Log)
}

// Item is one file to save: the source path plus exactly one of Image or
// FormFile describing it.
type Item struct {
	Source   string
	Image    *domain.Image
	FormFile *domain.FormFile
}

func (it Item) owner() string {
	if it.Image != nil {
		return it.Image.TaskID
	}
	if it.FormFile != nil {
		return it.FormFile.TaskID
	}
	return ""
}

func (it Item) id() string {
	if it.Image != nil {
		return it.Image.ID
	}
	if it.FormFile != nil {
		return it.FormFile.ID
	}
	return ""
}

// displayName is the user-facing file name. It is metadata only.
func (it Item) displayName() string {
	if it.Image != nil && it.Image.FileName != "" {
		return filepath.Base(it.Image.FileName)
	}
	if it.FormFile != nil && it.FormFile.Name != "" {
		return filepath.Base(it.FormFile.Name)
	}
	return filepath.Base(it.Source)
}

// storedName keys a file on disk by its record id so two records never
// share a path, whatever their display names.
func storedName(id, displayName string) string {
	return filepath.Base(id) + strings.ToLower(filepath.Ext(displayName))
}

func (it Item) validate() error {
	if (it.Image == nil) == (it.FormFile == nil) {
		return &domain.ValidationError{Field: "attachment", Reason: "exactly one of image or form file is required"}
	}
	if it.id() == "" {
		return &domain.ValidationError{Field: "attachment.id", Reason: "required"}
	}
	if it.owner() == "" {
		return &domain.ValidationError{Field: "attachment.taskId", Reason: "required"}
	}
	if it.Source == "" {
		return &domain.ValidationError{Field: "attachment.source", Reason: "required"}
	}
	return nil
}

func (m Manager) dest(it Item) string {
	return filepath.Join(m.Paths.OwnerDir(it.owner()), storedName(it.id(), it.displayName()))
}

// Save copies the item's source into its task directory and records it.
// The steps run in order: source check, directory, copy, thumbnail, stat,
// metadata. A thumbnail failure only drops the thumbnail.
func (m Manager) Save(ctx context.Context, it Item) (Item, error) {
	if err := m.Store.Initialized(ctx); err != nil {
		return Item{}, err
	}
	if err := it.validate(); err != nil {
		return Item{}, err
	}
	src := m.Paths.Resolve(it.Source)
	if err := m.requireFile(src); err != nil {
		return Item{}, err
	}
	dst := m.dest(it)
	if err := m.mkdir(filepath.Dir(dst)); err != nil {
		return Item{}, err
	}
	return m.store(ctx, it, src, dst)
}

// store runs the part of Save after the destination directory exists.
func (m Manager) store(ctx context.Context, it Item, src, dst string) (Item, error) {
	if err := m.copyFile(ctx, src, dst); err != nil {
		return Item{}, err
	}
	var thumb string
	if it.Image != nil {
		thumb = m.thumbnail(dst)
	}
	info, err := m.FS.Stat(dst)
	if err != nil {
		return Item{}, ioErr("stat", dst, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(dst))

	if it.Image != nil {
		img := *it.Image
		img.URI = dst
		img.FileName = it.displayName()
		img.FileSize = info.Size()
		img.Thumbnail = thumb
		if img.ContentType == "" {
			img.ContentType = contentType
		}
		if img.FileType == "" {
			img.FileType = filepath.Ext(dst)
		}
		if err := codec.Save(ctx, m.Store, m.ImageCodec, img); err != nil {
			return Item{}, err
		}
		return Item{Source: it.Source, Image: &img}, nil
	}
	f := *it.FormFile
	f.URI = dst
	f.Name = it.displayName()
	f.Size = info.Size()
	if f.ContentType == "" {
		f.ContentType = contentType
	}
	if err := codec.Save(ctx, m.Store, m.FormFileCodec, f); err != nil {
		return Item{}, err
	}
	return Item{Source: it.Source, FormFile: &f}, nil
}

// thumbnail returns the base64 JPEG preview of path, or "" when the source
// is too large or cannot be decoded.
func (m Manager) thumbnail(path string) string {
	if m.Resizer == nil {
		return ""
	}
	th := m.Config.Thumbnail
	log := m.logger().WithField("path", path)
	info, err := m.FS.Stat(path)
	if err != nil {
		log.WithError(err).Warn("thumbnail skipped")
		return ""
	}
	if th.MaxSourceBytes > 0 && info.Size() > th.MaxSourceBytes {
		log.WithField("size", info.Size()).Warn("thumbnail skipped: source too large")
		return ""
	}
	data, err := afero.ReadFile(m.FS, path)
	if err != nil {
		log.WithError(err).Warn("thumbnail skipped")
		return ""
	}
	out, err := m.Resizer.Thumbnail(data, th.MaxDimension, th.Quality)
	if err != nil {
		log.WithError(err).Warn("thumbnail skipped")
		return ""
	}
	return base64.StdEncoding.EncodeToString(out)
}

// SaveImage saves one image from src.
func (m Manager) SaveImage(ctx context.Context, img domain.Image, src string) (domain.Image, error) {
	it, err := m.Save(ctx, Item{Source: src, Image: &img})
	if err != nil {
		return domain.Image{}, err
	}
	return *it.Image, nil
}

func (m Manager) SaveFormFile(ctx context.Context, f domain.FormFile, src string) (domain.FormFile, error) {
	it, err := m.Save(ctx, Item{Source: src, FormFile: &f})
	if err != nil {
		return domain.FormFile{}, err
	}
	return *it.FormFile, nil
}

// SaveBatch saves every item. Destination directories are created first,
// in parallel; then the files are saved with the same bound. A failing item
// never stops the others. It returns how many were saved and one error per
// failed item, in item order.
func (m Manager) SaveBatch(ctx context.Context, items []Item) (int, []error) {
	if err := m.Store.Initialized(ctx); err != nil {
		return 0, []error{err}
	}
	limit := m.Config.Parallelism
	if limit <= 0 {
		limit = 1
	}

	dirErrs := map[string]error{}
	var mu sync.Mutex
	var dirs []string
	seen := map[string]bool{}
	for _, it := range items {
		if it.validate() != nil {
			continue
		}
		dir := filepath.Dir(m.dest(it))
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	var g errgroup.Group
	g.SetLimit(limit)
	for _, dir := range dirs {
		g.Go(func() error {
			if err := m.mkdir(dir); err != nil {
				mu.Lock()
				dirErrs[dir] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	errs := make([]error, len(items))
	var saves errgroup.Group
	saves.SetLimit(limit)
	for i, it := range items {
		saves.Go(func() error {
			errs[i] = m.saveProvisioned(ctx, it, dirErrs)
			return nil
		})
	}
	saves.Wait()

	saved := 0
	var out []error
	for i, err := range errs {
		if err == nil {
			saved++
			continue
		}
		out = append(out, fmt.Errorf("attachment %d (%s): %w", i, items[i].id(), err))
	}
	if len(out) > 0 {
		m.logger().WithFields(logrus.Fields{"saved": saved, "failed": len(out)}).Warn("attachment batch had failures")
	}
	return saved, out
}

func (m Manager) saveProvisioned(ctx context.Context, it Item, dirErrs map[string]error) error {
	if err := it.validate(); err != nil {
		return err
	}
	dst := m.dest(it)
	if err := dirErrs[filepath.Dir(dst)]; err != nil {
		return err
	}
	src := m.Paths.Resolve(it.Source)
	if err := m.requireFile(src); err != nil {
		return err
	}
	_, err := m.store(ctx, it, src, dst)
	return err
}
