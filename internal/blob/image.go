package blob

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"chippo_portfolio/internal/model"
)

// ReadImage loads an upload into memory with size and type checks and
// returns the bytes with their content type.
func ReadImage(r io.Reader, declaredType string, maxSize int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, "", model.ErrFileTooLarge
	}

	contentType, err := CheckImage(data, declaredType)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// CheckImage resolves the content type, sniffing when none was declared, and
// rejects anything that is not a supported image.
func CheckImage(data []byte, declaredType string) (string, error) {
	contentType := declaredType
	if contentType == "" && len(data) > 0 {
		contentType = http.DetectContentType(data[:min(len(data), 512)])
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if !model.IsAllowedImageType(contentType) {
		return "", model.ErrInvalidImageType
	}
	return contentType, nil
}

// Thumbnail center-crops to the card size and encodes as JPEG.
func Thumbnail(data []byte) ([]byte, error) {
	return resizeToJPEG(data, model.ThumbnailWidth, model.ThumbnailHeight, 85)
}

func resizeToJPEG(data []byte, width, height, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
