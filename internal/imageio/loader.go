// Package imageio loads image files into pixel buffers and provides the
// geometric transforms the decoder needs.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"qrrename/internal/storage"
)

// Options controls how a file is turned into a pixel buffer
type Options struct {
	Monochrome bool
	AutoOrient bool
}

// Loader reads image files through a filesystem backend
type Loader struct {
	fs   storage.FS
	opts Options
}

// NewLoader creates a loader
func NewLoader(fsys storage.FS, opts Options) *Loader {
	return &Loader{fs: fsys, opts: opts}
}

// Load reads path and decodes it. Any failure is returned as *LoadError.
func (l *Loader) Load(path string) (image.Image, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(l.opts.AutoOrient))
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("decode image: %w", err)}
	}

	if l.opts.Monochrome {
		img = Grayscale(img)
	}

	return img, nil
}

// Grayscale converts img to a single-channel buffer
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Rotate turns img counter-clockwise by degrees. Multiples of 90 are exact;
// other angles enlarge the canvas and fill the corners with white so the
// quiet zone around a code stays light.
func Rotate(img image.Image, degrees int) image.Image {
	switch NormalizeAngle(degrees) {
	case 0:
		return img
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return imaging.Rotate(img, float64(degrees), color.White)
	}
}

// NormalizeAngle maps degrees into [0, 360)
func NormalizeAngle(degrees int) int {
	a := degrees % 360
	if a < 0 {
		a += 360
	}
	return a
}

// LoadError reports a file that could not be read or decoded
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
