package files

import (
	"mime"
	"path/filepath"
	"strings"
)

const DefaultMimeType = "application/octet-stream"

var knownTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".jpeg": "image/jpg",
	".jpg":  "image/jpg",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".gif":  "image/gif",
	".png":  "image/png",
}

// MimeType returns the content type for filePath's extension, falling back
// to the system table and then to DefaultMimeType.
func MimeType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return DefaultMimeType
	}
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return DefaultMimeType
}
