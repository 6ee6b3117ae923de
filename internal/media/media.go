// Package media normalizes uploaded images before they reach the model.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// webp decoder
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 1600
	DefaultMaxBytes     = 4 * 1024 * 1024
)

// ErrEmpty is returned for an empty upload
var ErrEmpty = errors.New("image is empty")

var supportedTypes = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// JPEG qualities to try, best first
var qualityLevels = []int{90, 80, 70, 60, 50, 40}

// Options bounds the normalized image
type Options struct {
	MaxDimension int
	MaxBytes     int
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// Image is a decoded-and-bounded image ready to send
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// DataURL returns the image as a data: URL
func (img *Image) DataURL() string {
	return "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// DetectMIME sniffs the MIME type of data
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// Supported reports whether the MIME type can be normalized
func Supported(mimeType string) bool {
	_, ok := supportedTypes[mimeType]
	return ok
}

// Normalize validates an uploaded image and shrinks it until it fits
// opts. Images already within bounds are returned unchanged.
func Normalize(data []byte, opts Options) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	opts = opts.withDefaults()

	mimeType := DetectMIME(data)
	format, ok := supportedTypes[mimeType]
	if !ok {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= opts.MaxDimension && height <= opts.MaxDimension && len(data) <= opts.MaxBytes {
		return &Image{Data: data, MimeType: mimeType, Width: width, Height: height}, nil
	}

	return shrink(img, format, opts)
}

// shrink walks a descending dimension grid and, for lossy output, a
// quality grid, returning the first encoding that fits MaxBytes.
func shrink(img image.Image, format string, opts Options) (*Image, error) {
	bounds := img.Bounds()
	longest := max(bounds.Dx(), bounds.Dy())

	target := min(longest, opts.MaxDimension)
	var dimensions []int
	for d := target; d >= target/4 && d > 0; d = d * 3 / 4 {
		dimensions = append(dimensions, d)
	}

	smallest := -1
	for _, dim := range dimensions {
		resized := img
		if longest > dim {
			resized = imaging.Fit(img, dim, dim, imaging.Lanczos)
		}
		rb := resized.Bounds()

		qualities := qualityLevels
		if format == "png" || format == "gif" {
			qualities = qualityLevels[:1]
		}
		for _, quality := range qualities {
			encoded, mimeType, err := encode(resized, format, quality)
			if err != nil {
				return nil, fmt.Errorf("failed to encode image: %w", err)
			}
			if smallest < 0 || len(encoded) < smallest {
				smallest = len(encoded)
			}
			if len(encoded) <= opts.MaxBytes {
				return &Image{Data: encoded, MimeType: mimeType, Width: rb.Dx(), Height: rb.Dy()}, nil
			}
		}
	}

	return nil, fmt.Errorf("image could not be reduced below %d bytes (smallest %d)", opts.MaxBytes, smallest)
}

// encode writes img in its source format. webp has no encoder and is
// re-encoded as JPEG.
func encode(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	case "gif":
		err := gif.Encode(&buf, img, nil)
		return buf.Bytes(), "image/gif", err
	default:
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
		return buf.Bytes(), "image/jpeg", err
	}
}
