package actions

import (
	"encoding/base64"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

func joinMembers(members []string) string {
	return strings.Join(members, ",")
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func sniffMIME(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
