package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io/fs"
	"math"

	"golang.org/x/image/draw"
)

// ErrPhotoNotFound is returned when a roll has no photo in the source.
var ErrPhotoNotFound = errors.New("photo not found")

// PhotoSource loads passport photos named <roll>.jpg.
type PhotoSource struct {
	fsys    fs.FS
	maxPx   int
	quality int
}

// NewPhotoSource reads photos from fsys, downscaling them to at most maxPx on
// the long edge. A nil fsys yields a source with no photos.
func NewPhotoSource(fsys fs.FS, maxPx int) *PhotoSource {
	if maxPx <= 0 {
		maxPx = 256
	}
	return &PhotoSource{fsys: fsys, maxPx: maxPx, quality: 85}
}

// Load returns a JPEG thumbnail for roll.
func (p *PhotoSource) Load(roll string) ([]byte, error) {
	if p == nil || p.fsys == nil {
		return nil, ErrPhotoNotFound
	}
	raw, err := fs.ReadFile(p.fsys, roll+".jpg")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPhotoNotFound
		}
		return nil, fmt.Errorf("read photo %s: %w", roll, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode photo %s: %w", roll, err)
	}
	img = downscaleIfNeeded(img, p.maxPx, p.maxPx)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode photo %s: %w", roll, err)
	}
	return buf.Bytes(), nil
}

func downscaleIfNeeded(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return src
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := int(math.Max(1, math.Round(float64(w)*scale)))
	nh := int(math.Max(1, math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
