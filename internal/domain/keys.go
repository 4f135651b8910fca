package domain

import (
	"fmt"
	"path"

	"github.com/google/uuid"
)

// OriginalKey returns a fresh object key for an uploaded original. The
// extension comes from the MIME type, then from a recognized filename
// extension, and is .jpg otherwise; the raw filename never reaches the key.
func OriginalKey(telegramID int64, contentType, filename string) string {
	f, err := FormatFromContentType(contentType)
	if err != nil {
		f, err = ParseFormat(path.Ext(filename))
	}
	if err != nil {
		f = FormatJPEG
	}
	return fmt.Sprintf("original/%d/%s%s", telegramID, uuid.NewString(), f.Extension())
}

// ProcessedKey returns the object key of a job's result
func ProcessedKey(userID int64, jobID string, f Format) string {
	return fmt.Sprintf("processed/%d/%s%s", userID, jobID, f.Extension())
}
