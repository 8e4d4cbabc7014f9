package utils

import (
	"mime"
	"path"

	"github.com/gabriel-vasile/mimetype"
)

const defaultMimeType = "application/octet-stream"

// DetermineMimeType picks a content type by file extension and falls back to
// sniffing data when the extension is unknown.
func DetermineMimeType(filename string, data []byte) string {
	if mt := mime.TypeByExtension(path.Ext(filename)); len(mt) > 0 {
		return mt
	}
	if len(data) == 0 {
		return defaultMimeType
	}
	return mimetype.Detect(data).String()
}
