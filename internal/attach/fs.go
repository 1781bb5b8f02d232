package attach

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
)

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func ioErr(op, path string, err error) error {
	return &domain.FileIOError{Op: op, Path: path, Err: err}
}

func (m Manager) requireFile(path string) error {
	ok, err := afero.Exists(m.FS, path)
	if err != nil {
		return ioErr("stat", path, err)
	}
	if !ok {
		return &domain.FileNotFoundError{Path: path}
	}
	return nil
}

func (m Manager) mkdir(dir string) error {
	if err := m.FS.MkdirAll(dir, 0o755); err != nil {
		return ioErr("mkdir", dir, err)
	}
	return nil
}

// copyFile copies src over dst. On Android the destination is truncated in
// place. On iOS, which refuses to overwrite, the bytes go to a temporary file
// that is moved over dst once the old file is unlinked.
func (m Manager) copyFile(ctx context.Context, src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	in, err := m.FS.Open(src)
	if err != nil {
		return ioErr("open", src, err)
	}
	defer in.Close()

	target := dst
	if m.Platform == config.PlatformIOS {
		target = dst + ".part"
	}
	out, err := m.FS.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ioErr("create", target, err)
	}
	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		m.FS.Remove(target)
		return ioErr("copy", dst, err)
	}
	if err := out.Close(); err != nil {
		m.FS.Remove(target)
		return ioErr("copy", dst, err)
	}
	if target == dst {
		return nil
	}
	if err := m.unlinkIfExists(dst); err != nil {
		m.FS.Remove(target)
		return err
	}
	if err := m.FS.Rename(target, dst); err != nil {
		m.FS.Remove(target)
		return ioErr("move", dst, err)
	}
	return nil
}

func (m Manager) unlinkIfExists(path string) error {
	if _, err := lstat(m.FS, path); os.IsNotExist(err) {
		return nil
	}
	if err := m.FS.Remove(path); err != nil && !os.IsNotExist(err) {
		return ioErr("unlink", path, err)
	}
	return nil
}

// lstat does not follow a symlink at path when the filesystem can tell.
func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}

// removeBestEffort unlinks path and only logs a failure. The record is
// already gone, so a leftover file is preferable to a resurrected record.
func (m Manager) removeBestEffort(path string) {
	if path == "" {
		return
	}
	if err := m.unlinkIfExists(path); err != nil {
		m.logger().WithField("path", path).WithError(err).Warn("could not remove attachment file")
	}
}
