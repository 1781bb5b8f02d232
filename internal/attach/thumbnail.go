package attach

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Resizer derives a bounded preview from an encoded image.
type Resizer interface {
	Thumbnail(src []byte, maxDim, quality int) ([]byte, error)
}

// ImagingResizer fits the image within maxDim x maxDim and encodes it as
// JPEG. EXIF orientation is applied first.
type ImagingResizer struct{}

func (ImagingResizer) Thumbnail(src []byte, maxDim, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
