package input

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/imaging"
)

var (
	ErrMissingCredential = errors.New("api key required")
	ErrMissingImage      = errors.New("image required")
	ErrUnsupportedImage  = errors.New("unsupported image format")
	ErrDecodeImage       = errors.New("failed to decode image")
)

// allowedExtensions mirrors the file picker's accept list.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// allowedImageTypes is the set of sniffed MIME types accepted from either source.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Source is one raw image submission. A nil or empty Source means the user
// did not provide that input.
type Source struct {
	Filename string
	Data     []byte
}

func (s *Source) present() bool {
	return s != nil && len(s.Data) > 0
}

// Acquire validates the credential, picks the active image (upload wins over
// camera), decodes it, and returns a ready RunContext. The credential is
// checked first so a missing key never touches the image bytes.
func Acquire(apiKey string, upload, camera *Source) (*domain.RunContext, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	src, kind := Select(upload, camera)
	if src == nil {
		return nil, ErrMissingImage
	}

	img, err := load(src, kind)
	if err != nil {
		return nil, err
	}

	return &domain.RunContext{
		ID:         uuid.NewString(),
		Credential: domain.Credential(apiKey),
		Image:      img,
	}, nil
}

// Select applies the precedence rule: upload if present, else camera.
func Select(upload, camera *Source) (*Source, domain.Source) {
	switch {
	case upload.present():
		return upload, domain.SourceUpload
	case camera.present():
		return camera, domain.SourceCamera
	default:
		return nil, ""
	}
}

func load(src *Source, kind domain.Source) (*domain.Image, error) {
	if kind == domain.SourceUpload && src.Filename != "" {
		ext := strings.ToLower(filepath.Ext(src.Filename))
		if !allowedExtensions[ext] {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, ext)
		}
	}

	if _, ok := AllowedImageMIME(src.Data); !ok {
		return nil, ErrUnsupportedImage
	}

	bitmap, format, err := imaging.Decode(src.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeImage, err)
	}

	encoded, err := imaging.Encode(bitmap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeImage, err)
	}

	return &domain.Image{
		Source:  kind,
		Format:  format,
		Bitmap:  bitmap,
		Encoded: encoded,
	}, nil
}

// AllowedImageMIME returns the sniffed MIME type and true if data is a JPEG
// or PNG, or ("", false) otherwise.
func AllowedImageMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// UserMessage turns an acquisition error into the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "Please enter your API key to continue."
	case errors.Is(err, ErrMissingImage):
		return "Upload or capture an image to get started."
	case errors.Is(err, ErrUnsupportedImage):
		return "Please use a JPG or PNG image."
	case errors.Is(err, ErrDecodeImage):
		return "The image could not be read."
	default:
		return ""
	}
}
