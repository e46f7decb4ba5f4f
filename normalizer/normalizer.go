// Package normalizer bounds image payload size and encodes images as data
// URIs for model requests.
package normalizer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/chriskillpack/imgsum/fetcher"
	"github.com/chriskillpack/imgsum/locator"
	"github.com/disintegration/imaging"
)

const (
	// DefaultMaxBytes is the largest payload passed through untouched.
	DefaultMaxBytes = 20 * 1024 * 1024

	// Oversized images are shrunk to fit within this box.
	ThumbnailWidth  = 800
	ThumbnailHeight = 800

	JPEGQuality = 85
)

// Image is an image ready to be sent to a model.
type Image struct {
	Reference   locator.Reference
	Data        []byte
	ContentType string
	DataURI     string
	Resized     bool
}

// Size is the byte size of the encoded payload before base64.
func (img *Image) Size() int { return len(img.Data) }

// Base64 returns the payload without the data URI prefix.
func (img *Image) Base64() string {
	_, b64, _ := strings.Cut(img.DataURI, ",")
	return b64
}

// Normalize returns img unchanged when it is at most maxBytes, otherwise it is
// downscaled once to fit 800x800 and re-encoded as JPEG. maxBytes <= 0 means
// DefaultMaxBytes.
func Normalize(img *fetcher.Image, maxBytes int) (*Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	out := &Image{
		Reference:   img.Reference,
		Data:        img.Data,
		ContentType: sniff(img.Data),
	}

	if len(img.Data) > maxBytes {
		src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decoding oversized image %s: %w", img.Reference.URL, err)
		}

		// Fit keeps the aspect ratio and never upscales
		thumb := imaging.Fit(src, ThumbnailWidth, ThumbnailHeight, imaging.Lanczos)

		buf := &bytes.Buffer{}
		if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
			return nil, fmt.Errorf("encoding resized image %s: %w", img.Reference.URL, err)
		}
		out.Data = buf.Bytes()
		out.ContentType = "image/jpeg"
		out.Resized = true
	}

	out.DataURI = "data:" + out.ContentType + ";base64," + base64.StdEncoding.EncodeToString(out.Data)
	return out, nil
}

// sniff returns the image content type of data, defaulting to JPEG.
func sniff(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}
