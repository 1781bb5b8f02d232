// Package session resolves the per-user storage namespace and the offline
// login record that gates every store operation.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/afero"

	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
)

const userFile = "user.json"

// Session is the explicit handle threaded into the store and attachment
// manager: the document root, the user's namespace and the platform.
type Session struct {
	Root     string
	UserHash string
	Platform config.Platform
	fs       afero.Fs
}

// New builds a session over fs. A nil fs means the OS filesystem.
func New(fs afero.Fs, root, userHash string, platform config.Platform) Session {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if platform == "" {
		platform = config.PlatformAndroid
	}
	return Session{Root: root, UserHash: userHash, Platform: platform, fs: fs}
}

// FS returns the filesystem the session lives on.
func (s Session) FS() afero.Fs {
	if s.fs == nil {
		return afero.NewOsFs()
	}
	return s.fs
}

// Dir is the namespace directory holding the user's database and files.
func (s Session) Dir() string {
	return filepath.Join(s.Root, s.UserHash)
}

func (s Session) userPath() string {
	return filepath.Join(s.Dir(), userFile)
}

// Ready fails with ErrNotInitialized unless the namespace directory and the
// user record exist.
func (s Session) Ready() error {
	if s.Root == "" || s.UserHash == "" {
		return fmt.Errorf("%w: no user namespace", domain.ErrNotInitialized)
	}
	ok, err := afero.Exists(s.FS(), s.userPath())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotInitialized, err)
	}
	if !ok {
		return fmt.Errorf("%w: no user record in %s", domain.ErrNotInitialized, s.Dir())
	}
	return nil
}

// User reads the stored login record.
func (s Session) User() (domain.User, error) {
	if err := s.Ready(); err != nil {
		return domain.User{}, err
	}
	return readUser(s.FS(), s.userPath())
}

// Hash derives the namespace segment for a set of credentials.
func Hash(username, password string) string {
	sum := sha256.Sum256([]byte(normalize(username) + password))
	return hex.EncodeToString(sum[:])
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validCredentials(username, password string) error {
	if normalize(username) == "" {
		return &domain.ValidationError{Field: "username", Reason: "required"}
	}
	if password == "" {
		return &domain.ValidationError{Field: "password", Reason: "required"}
	}
	return nil
}

func defaultUser() domain.User {
	return domain.User{
		Language: "en",
		UOM:      "metric",
		Settings: map[string]any{},
	}
}

// AddLogin stores user for offline login. Fields already on disk survive
// unless user sets them; defaults fill whatever is still empty.
func AddLogin(fs afero.Fs, root string, platform config.Platform, user domain.User, password string) (Session, domain.User, error) {
	if err := validCredentials(user.Username, password); err != nil {
		return Session{}, domain.User{}, err
	}
	user.Username = normalize(user.Username)
	s := New(fs, root, Hash(user.Username, password), platform)
	fs = s.FS()

	if info, err := fs.Stat(s.Dir()); err == nil && !info.IsDir() {
		if err := fs.Remove(s.Dir()); err != nil {
			return Session{}, domain.User{}, &domain.FileIOError{Op: "unlink", Path: s.Dir(), Err: err}
		}
	}
	if err := fs.MkdirAll(s.Dir(), 0o755); err != nil {
		return Session{}, domain.User{}, domain.Unavailable(err)
	}

	merged := user
	old, err := readUser(fs, s.userPath())
	switch {
	case err == nil:
		if err := mergo.Merge(&merged, old); err != nil {
			return Session{}, domain.User{}, fmt.Errorf("merge stored user: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Session{}, domain.User{}, err
	}
	if err := mergo.Merge(&merged, defaultUser()); err != nil {
		return Session{}, domain.User{}, fmt.Errorf("merge user defaults: %w", err)
	}

	data, err := json.MarshalIndent(merged, "", "\t")
	if err != nil {
		return Session{}, domain.User{}, err
	}
	if err := afero.WriteFile(fs, s.userPath(), data, 0o600); err != nil {
		return Session{}, domain.User{}, &domain.FileIOError{Op: "write", Path: s.userPath(), Err: err}
	}
	return s, merged, nil
}

// Login opens the namespace of a user that logged in online before.
func Login(fs afero.Fs, root string, platform config.Platform, username, password string) (Session, domain.User, error) {
	if err := validCredentials(username, password); err != nil {
		return Session{}, domain.User{}, err
	}
	username = normalize(username)
	s := New(fs, root, Hash(username, password), platform)
	user, err := readUser(s.FS(), s.userPath())
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, domain.User{}, fmt.Errorf("%w: user %s has not logged in online on this device", domain.ErrNotInitialized, username)
	}
	if err != nil {
		return Session{}, domain.User{}, err
	}
	if user.Username != username {
		return Session{}, domain.User{}, fmt.Errorf("%w: stored user does not match %s; log in again online", domain.ErrNotInitialized, username)
	}
	return s, user, nil
}

func readUser(fs afero.Fs, path string) (domain.User, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return domain.User{}, err
	}
	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		return domain.User{}, fmt.Errorf("decode user record %s: %w", path, err)
	}
	return u, nil
}
