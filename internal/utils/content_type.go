package utils

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const octetStream = "application/octet-stream"

// documentTypes covers uploads that mime.TypeByExtension resolves
// differently across platforms.
var documentTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".heic": "image/heic",
	".webp": "image/webp",
	".csv":  "text/csv; charset=utf-8",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// DetectContentType guesses the type of a stored document from its key,
// then from the first bytes of body.
func DetectContentType(key string, body []byte) string {
	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := documentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if len(body) > 0 {
		return http.DetectContentType(body)
	}
	return octetStream
}

// IsGenericContentType reports whether ct carries no real type information.
func IsGenericContentType(ct string) bool {
	ct = strings.TrimSpace(strings.ToLower(ct))
	return ct == "" || strings.HasPrefix(ct, octetStream) || strings.HasPrefix(ct, "binary/octet-stream")
}
