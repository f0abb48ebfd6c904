package preview

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/jute-web/internal/model"
)

const dataURIPrefix = "data:image/jpeg;base64,"

// ErrTooManyPixels is returned for images whose decoded bitmap would exceed
// the generator's pixel limit.
var ErrTooManyPixels = errors.New("image dimensions exceed the preview limit")

// Generator turns an uploaded image into a small JPEG data URI for display.
type Generator struct {
	maxSide   uint
	maxPixels int64
	quality   int
}

func NewGenerator(maxSide uint, maxPixels int64) *Generator {
	return &Generator{maxSide: maxSide, maxPixels: maxPixels, quality: 85}
}

// Render decodes img, shrinks it to fit within maxSide x maxSide keeping the
// aspect ratio, and returns it as a data URI. Images already small enough are
// re-encoded without scaling.
func (g *Generator) Render(img model.SelectedImage) (string, error) {
	// The header is enough to size the bitmap; check it before decoding.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("failed to read header of %s: %w", img.Name, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > g.maxPixels {
		return "", fmt.Errorf("%s is %dx%d: %w", img.Name, cfg.Width, cfg.Height, ErrTooManyPixels)
	}

	decoded, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", img.Name, err)
	}

	thumb := resize.Thumbnail(g.maxSide, g.maxSide, decoded, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: g.quality}); err != nil {
		return "", fmt.Errorf("failed to encode %s preview of %s: %w", format, img.Name, err)
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
