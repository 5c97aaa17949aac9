package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

const MaxUploadSizeBytes = 10 << 20

var (
	ErrNoStore      = errors.New("avatar store is not configured")
	ErrInvalidForm  = errors.New("invalid multipart form")
	ErrFileRequired = errors.New("file is required")
	ErrFileEmpty    = errors.New("file is empty")
	ErrFileTooLarge = errors.New("file is too large")
	ErrNotAnImage   = errors.New("file must be an image")
)

// AvatarStore persists an image under key and returns its public URL.
type AvatarStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Image struct {
	Data        []byte
	ContentType string
}

// ReadImage reads an image from the multipart field of r.
func ReadImage(w http.ResponseWriter, r *http.Request, field string) (Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSizeBytes+(1<<20))
	if err := r.ParseMultipartForm(MaxUploadSizeBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return Image{}, ErrFileTooLarge
		}
		return Image{}, ErrInvalidForm
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return Image{}, ErrFileRequired
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSizeBytes+1))
	if err != nil {
		return Image{}, ErrInvalidForm
	}
	if len(data) == 0 {
		return Image{}, ErrFileEmpty
	}
	if len(data) > MaxUploadSizeBytes {
		return Image{}, ErrFileTooLarge
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return Image{}, ErrNotAnImage
	}

	return Image{Data: data, ContentType: contentType}, nil
}
