package attach

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/store"
)

// Images lists the images of some tasks.
func (m Manager) Images(ctx context.Context, taskIDs ...string) ([]domain.Image, error) {
	return codec.List(ctx, m.Store, m.ImageCodec, store.InStrings("taskId", taskIDs))
}

// FormFiles lists the form files of some tasks.
func (m Manager) FormFiles(ctx context.Context, taskIDs ...string) ([]domain.FormFile, error) {
	return codec.List(ctx, m.Store, m.FormFileCodec, store.InStrings("taskId", taskIDs))
}

// DeleteImage removes an image record, then its file.
func (m Manager) DeleteImage(ctx context.Context, id string) error {
	var img domain.Image
	err := m.Store.Update(ctx, []string{domain.TableImage}, func(tx *store.Tx) error {
		var err error
		if img, err = codec.Load(ctx, tx, m.ImageCodec, id); err != nil {
			return err
		}
		return tx.DeleteByID(ctx, domain.TableImage, id)
	})
	if err != nil {
		return err
	}
	m.removeBestEffort(img.URI)
	return nil
}

// DeleteFormFile removes a form file record, then its file.
func (m Manager) DeleteFormFile(ctx context.Context, id string) error {
	var f domain.FormFile
	err := m.Store.Update(ctx, []string{domain.TableFormFiles}, func(tx *store.Tx) error {
		var err error
		if f, err = codec.Load(ctx, tx, m.FormFileCodec, id); err != nil {
			return err
		}
		return tx.DeleteByID(ctx, domain.TableFormFiles, id)
	})
	if err != nil {
		return err
	}
	m.removeBestEffort(f.URI)
	return nil
}

// DeleteByTask removes every image and form file of the tasks, then their
// files and the tasks' changelog copies. It returns how many records went.
func (m Manager) DeleteByTask(ctx context.Context, taskIDs ...string) (int, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	var uris []string
	n := 0
	err := m.Store.Update(ctx, []string{domain.TableImage, domain.TableFormFiles}, func(tx *store.Tx) error {
		imgs, err := codec.List(ctx, tx, m.ImageCodec, store.InStrings("taskId", taskIDs))
		if err != nil {
			return err
		}
		files, err := codec.List(ctx, tx, m.FormFileCodec, store.InStrings("taskId", taskIDs))
		if err != nil {
			return err
		}
		for _, img := range imgs {
			uris = append(uris, img.URI)
		}
		for _, f := range files {
			uris = append(uris, f.URI)
		}
		a, err := tx.Delete(ctx, domain.TableImage, store.InStrings("taskId", taskIDs))
		if err != nil {
			return err
		}
		b, err := tx.Delete(ctx, domain.TableFormFiles, store.InStrings("taskId", taskIDs))
		if err != nil {
			return err
		}
		n = int(a + b)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, uri := range uris {
		m.removeBestEffort(uri)
	}
	for _, id := range taskIDs {
		m.removeTaskDirs(id)
	}
	return n, nil
}

// DeleteByProject removes the images linked to a project directly as well
// as those of its tasks.
func (m Manager) DeleteByProject(ctx context.Context, projectID string, taskIDs []string) (int, error) {
	var uris []string
	n := 0
	err := m.Store.Update(ctx, []string{domain.TableImage}, func(tx *store.Tx) error {
		imgs, err := codec.List(ctx, tx, m.ImageCodec, store.Eq("projectId", projectID))
		if err != nil {
			return err
		}
		for _, img := range imgs {
			uris = append(uris, img.URI)
		}
		d, err := tx.Delete(ctx, domain.TableImage, store.Eq("projectId", projectID))
		n = int(d)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, uri := range uris {
		m.removeBestEffort(uri)
	}
	byTask, err := m.DeleteByTask(ctx, taskIDs...)
	return n + byTask, err
}

// removeTaskDirs drops a task's Log directory and then the task directory
// itself when nothing else is left in it.
func (m Manager) removeTaskDirs(taskID string) {
	if taskID == "" {
		return
	}
	logDir := m.Paths.OwnerLogDir(taskID)
	if err := m.FS.RemoveAll(logDir); err != nil {
		m.logger().WithField("path", logDir).WithError(err).Warn("could not remove changelog files")
	}
	dir := m.Paths.OwnerDir(taskID)
	if empty, err := afero.IsEmpty(m.FS, dir); err == nil && empty {
		if err := m.FS.Remove(dir); err != nil && !os.IsNotExist(err) {
			m.logger().WithField("path", dir).WithError(err).Warn("could not remove task directory")
		}
	}
}

// SaveImageLog copies an edited image into the task's Log directory and
// records it as a PENDING Image log. The canonical image is not touched.
func (m Manager) SaveImageLog(ctx context.Context, img domain.Image, src string) (domain.Log, error) {
	if err := m.Store.Initialized(ctx); err != nil {
		return domain.Log{}, err
	}
	if err := (Item{Source: src, Image: &img}).validate(); err != nil {
		return domain.Log{}, err
	}
	src = m.Paths.Resolve(src)
	if err := m.requireFile(src); err != nil {
		return domain.Log{}, err
	}
	name := img.FileName
	if name == "" {
		name = filepath.Base(src)
	}
	dst := filepath.Join(m.Paths.OwnerLogDir(img.TaskID), storedName(img.ID, name))
	if err := m.mkdir(filepath.Dir(dst)); err != nil {
		return domain.Log{}, err
	}
	if err := m.copyFile(ctx, src, dst); err != nil {
		return domain.Log{}, err
	}
	info, err := m.FS.Stat(dst)
	if err != nil {
		return domain.Log{}, ioErr("stat", dst, err)
	}
	img.URI = dst
	img.FileName = filepath.Base(name)
	img.FileSize = info.Size()
	img.Thumbnail = m.thumbnail(dst)
	return m.Changelog.PutLog(ctx, domain.TableImage, img, "")
}

// DeleteImageLog discards an image log and its changelog copy.
func (m Manager) DeleteImageLog(ctx context.Context, id string) error {
	l, err := m.Changelog.GetLog(ctx, id)
	if err != nil {
		return err
	}
	if l.TableName != domain.TableImage {
		return &domain.ValidationError{Field: "tableName", Reason: "log " + id + " is not an image log"}
	}
	if err := m.Changelog.DeleteLog(ctx, id); err != nil {
		return err
	}
	if img, err := decodeImage(l); err == nil {
		m.removeBestEffort(img.URI)
	}
	return nil
}
