package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// audioTypes are the formats audio overviews are published in. Extensions
// are mapped explicitly because mime.TypeByExtension depends on the host's
// mime tables.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// DetectContentType determines the MIME type of a key from its extension.
// Unknown extensions are "application/octet-stream".
func DetectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, ok := audioTypes[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

// IsAudio returns true if the content type is any audio format.
func IsAudio(contentType string) bool {
	return strings.HasPrefix(baseType(contentType), "audio/")
}

// baseType strips parameters such as charset and lower-cases the type.
func baseType(contentType string) string {
	t := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(t))
}
