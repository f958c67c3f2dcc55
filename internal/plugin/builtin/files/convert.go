package files

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type Format string

const (
	PNG Format = "png"
	JPG Format = "jpg"
)

const jpegQuality = 90

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".bmp":  true,
}

// IsImage reports whether name has an extension Convert can read.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// ConvertedName swaps the extension of name for f.
func ConvertedName(name string, f Format) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + string(f)
}

// Convert decodes a PNG, JPEG, WebP or BMP image and re-encodes it as f.
// JPEG has no alpha, so transparent areas come out white.
func Convert(data []byte, f Format) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	switch f {
	case PNG:
		err = png.Encode(&buf, img)
	case JPG:
		b := img.Bounds()
		flat := image.NewRGBA(b)
		draw.Draw(flat, b, image.White, image.Point{}, draw.Src)
		draw.Draw(flat, b, img, b.Min, draw.Over)
		err = jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality})
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}
