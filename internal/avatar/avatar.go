// Package avatar loads local avatar images for PROFILE announcement and
// decodes the ones peers send. Avatars travel inline as base64, so the
// raw size is capped to keep the whole frame inside one UDP datagram.
package avatar

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxRawSize caps the raw image size. Base64 inflates by 4/3, and the
// frame with its other fields must stay under the 64 KiB datagram limit.
const MaxRawSize = 32 * 1024

var (
	ErrTooLarge = errors.New("avatar file too large")
	ErrNotImage = errors.New("avatar file is not an image")
)

// Load reads an image file and returns its MIME type and base64 payload.
func Load(path string) (mimeType, data string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	if len(raw) > MaxRawSize {
		return "", "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(raw), MaxRawSize)
	}

	mimeType = mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", "", fmt.Errorf("%w: %s", ErrNotImage, mimeType)
	}

	return mimeType, base64.StdEncoding.EncodeToString(raw), nil
}

// Decode turns a received base64 avatar payload back into raw bytes.
func Decode(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(data))
}
