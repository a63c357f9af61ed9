package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for conversion.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// IsPDF reports whether ext (with or without the dot) names a PDF.
func IsPDF(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}
