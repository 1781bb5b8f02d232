package attach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/domain"
)

// Sharer hands a file or a text payload to whatever shares it outward.
type Sharer interface {
	SharePath(ctx context.Context, path string) error
	ShareText(ctx context.Context, title, text string) error
}

// WriterSharer prints what it is given. The CLI and server use it.
type WriterSharer struct {
	W io.Writer
}

func (s WriterSharer) SharePath(_ context.Context, path string) error {
	_, err := fmt.Fprintln(s.W, path)
	return err
}

func (s WriterSharer) ShareText(_ context.Context, _, text string) error {
	_, err := fmt.Fprintln(s.W, text)
	return err
}

func decodeImage(l domain.Log) (domain.Image, error) {
	return changelog.DecodeData[domain.Image](l)
}

// ExportShare shares a log. An image log shares a copy of its image placed
// in the share directory; any other log shares its own indented JSON.
func (m Manager) ExportShare(ctx context.Context, l domain.Log) error {
	if m.Sharer == nil {
		return &domain.ValidationError{Field: "sharer", Reason: "no share target configured"}
	}
	if l.TableName == domain.TableImage {
		img, err := decodeImage(l)
		if err != nil {
			return err
		}
		if img.URI != "" {
			src := m.Paths.Resolve(img.URI)
			if err := m.requireFile(src); err != nil {
				return err
			}
			dir := m.Config.ShareDir
			if dir == "" {
				dir = filepath.Join(m.Paths.Dir(), "share")
			}
			if err := m.mkdir(dir); err != nil {
				return err
			}
			name := filepath.Base(src)
			if img.FileName != "" {
				name = filepath.Base(img.FileName)
			}
			dst := filepath.Join(dir, name)
			if err := m.copyFile(ctx, src, dst); err != nil {
				return err
			}
			return m.Sharer.SharePath(ctx, dst)
		}
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return m.Sharer.ShareText(ctx, fmt.Sprintf("%s %s", l.TableName, l.ID), string(data))
}
