// Package preview renders downscaled JPEG previews for browsable photo
// formats, correcting EXIF orientation on the way.
package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"path/filepath"
	"strings"

	// Register decoders for every previewable format.
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxSize bounds both preview dimensions in pixels.
	DefaultMaxSize = 400
	// DefaultQuality is the JPEG encode quality.
	DefaultQuality = 80
)

// previewableExtensions are formats the registered decoders handle. RAW
// files need camera-specific development and get no preview here.
var previewableExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".tiff": {}, ".tif": {},
}

// Generator renders previews with fixed size and quality settings.
type Generator struct {
	maxSize int
	quality int
}

// New returns a Generator with the given bounds; zero values fall back to
// the defaults.
func New(maxSize, quality int) *Generator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Generator{maxSize: maxSize, quality: quality}
}

// Supported reports whether a preview can be rendered for the path.
func Supported(path string) bool {
	_, ok := previewableExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Key returns the storage key for a preview of the given original key.
func Key(originalKey string) string {
	return "_previews/" + strings.TrimPrefix(originalKey, "/")
}

// Render decodes the image, applies the EXIF orientation, fits it inside
// the configured square, and returns JPEG bytes with the final dimensions.
func (g *Generator) Render(r io.Reader, orientation int) ([]byte, int, int, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, err
	}

	img = applyOrientation(img, orientation)
	fitted := imaging.Fit(img, g.maxSize, g.maxSize, imaging.Lanczos)

	bounds := fitted.Bounds()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: g.quality}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// applyOrientation undoes the camera rotation recorded in EXIF tag 274.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
