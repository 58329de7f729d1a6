package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"strings"
)

// dataURIPrefix is the header for PNG payloads embedded in model requests.
const dataURIPrefix = "data:image/png;base64,"

// Encoded is an image ready for transport to a model backend.
type Encoded struct {
	// PNG holds the lossless re-encoding of the source bitmap.
	PNG []byte
	// Base64 is PNG in standard base64 text.
	Base64 string
}

// MIMEType is always image/png; every source image is re-encoded before transport.
func (e *Encoded) MIMEType() string {
	return "image/png"
}

// DataURI returns the image as a data:image/png;base64 URI.
func (e *Encoded) DataURI() string {
	return dataURIPrefix + e.Base64
}

// Decode parses JPEG or PNG bytes into a bitmap. The returned format name is
// the one registered by the image package ("jpeg" or "png").
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// EncodePNG re-encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode converts img to PNG and base64 text.
func Encode(img image.Image) (*Encoded, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return &Encoded{
		PNG:    data,
		Base64: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// DecodeDataURI reverses Encoded.DataURI.
func DecodeDataURI(uri string) (image.Image, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return nil, fmt.Errorf("not a png data uri")
	}
	data, err := base64.StdEncoding.DecodeString(uri[len(dataURIPrefix):])
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	return img, nil
}

// ToNRGBA copies img into a non-premultiplied RGBA bitmap anchored at the
// origin. Two images are pixel-identical when their NRGBA copies match.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
