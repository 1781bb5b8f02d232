// Package paths maps attachment locations between the relative tokens kept in
// the store and absolute paths under the current document root.
package paths

import (
	"path/filepath"
	"strings"
)

// LogDir is the per-owner subdirectory holding changelog copies of files.
const LogDir = "Log"

// Resolver resolves tokens of the form <ownerId>/[Log/]<basename> against
// <root>/<userHash>. The root may change between installs; tokens do not.
type Resolver struct {
	Root     string
	UserHash string
}

// Dir is the namespace directory.
func (r Resolver) Dir() string {
	return filepath.Join(r.Root, r.UserHash)
}

// OwnerDir is the directory holding files of one entity, usually a task.
func (r Resolver) OwnerDir(ownerID string) string {
	return filepath.Join(r.Dir(), ownerID)
}

// OwnerLogDir is where changelog copies of an owner's files go.
func (r Resolver) OwnerLogDir(ownerID string) string {
	return filepath.Join(r.Dir(), ownerID, LogDir)
}

// Resolve turns a stored token into an absolute path. Already resolved
// paths come back unchanged, as do absolute paths outside any namespace.
func (r Resolver) Resolve(token string) string {
	token = strings.TrimPrefix(token, "file://")
	if token == "" {
		return ""
	}
	if !filepath.IsAbs(token) {
		return filepath.Join(r.Dir(), filepath.FromSlash(token))
	}
	if rel, ok := r.relative(token); ok {
		return filepath.Join(r.Dir(), rel)
	}
	return filepath.Clean(token)
}

// Token returns the stored form of path for a file owned by ownerID. Paths
// inside the namespace keep their relative location; anything else is
// assumed to be copied into the owner directory under its basename.
func (r Resolver) Token(ownerID, path string) string {
	return r.token(ownerID, "", path)
}

// LogToken is Token for a changelog copy.
func (r Resolver) LogToken(ownerID, path string) string {
	return r.token(ownerID, LogDir, path)
}

func (r Resolver) token(ownerID, sub, path string) string {
	path = strings.TrimPrefix(path, "file://")
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	if rel, ok := r.relative(path); ok {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(filepath.Join(ownerID, sub, filepath.Base(path)))
}

// relative finds the part of an absolute path below a <userHash> segment,
// which also matches paths written under an earlier document root.
func (r Resolver) relative(path string) (string, bool) {
	path = filepath.Clean(path)
	dir := filepath.Clean(r.Dir())
	if rel, err := filepath.Rel(dir, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		return rel, true
	}
	if r.UserHash == "" {
		return "", false
	}
	marker := string(filepath.Separator) + r.UserHash + string(filepath.Separator)
	if i := strings.LastIndex(path, marker); i >= 0 {
		return path[i+len(marker):], true
	}
	return "", false
}
