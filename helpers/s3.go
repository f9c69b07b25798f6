package helpers

import (
	"path"
	"strings"
	"time"

	"github.com/migadu/mailfiler/consts"
)

// NewFilename builds the object name of a filed email from its subject,
// first recipient and sender, each sanitized.
func NewFilename(subject, to, sender string) string {
	return SanitizeFilenameComponent(subject) + consts.FilenameSeparator +
		SanitizeFilenameComponent(to) + consts.FilenameSeparator +
		SanitizeFilenameComponent(sender) + consts.EmailExtension
}

// NewDestinationKey constructs the S3 key a filed email is copied to:
// <folder>/<YYYY-MM-DD>/<filename>.
func NewDestinationKey(folder string, sent time.Time, filename string) string {
	return path.Join(folder, sent.Format(consts.DateLayout), filename)
}

// NormalizeFolder strips surrounding slashes so folder names can be compared.
func NormalizeFolder(folder string) string {
	return strings.Trim(strings.TrimSpace(folder), "/")
}

// SameFolder reports whether a and b name the same folder.
func SameFolder(a, b string) bool {
	return NormalizeFolder(a) == NormalizeFolder(b)
}

// InFolder reports whether key lies below folder.
func InFolder(key, folder string) bool {
	folder = NormalizeFolder(folder)
	if folder == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(key, "/"), folder+"/")
}

// IsFiledKey reports whether key is a filed copy rather than an inbound
// object. When one folder is nested in the other, the deeper folder a key
// lies in decides.
func IsFiledKey(key, mainFolder, processedFolder string) bool {
	if !InFolder(key, processedFolder) {
		return false
	}
	if InFolder(key, mainFolder) && len(NormalizeFolder(mainFolder)) > len(NormalizeFolder(processedFolder)) {
		return false
	}
	return true
}
