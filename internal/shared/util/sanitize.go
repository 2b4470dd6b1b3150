package util

import (
	"errors"
	"path"
	"strings"
	"unicode"
)

// MaxDisplayNameLen caps client-supplied file names echoed back in responses.
const MaxDisplayNameLen = 120

// SanitizeFileName turns a client-supplied upload name into a display name:
// directories are dropped, separators and control characters become
// underscores and the result is capped at MaxDisplayNameLen runes with the
// extension kept.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	s = path.Base(s)
	if s == "." || s == "/" {
		return "", errors.New("invalid file name")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' || r == ':' {
			return '_'
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("invalid file name")
	}
	if runes := []rune(s); len(runes) > MaxDisplayNameLen {
		ext := []rune(path.Ext(s))
		if len(ext) > 10 {
			ext = nil
		}
		s = string(runes[:MaxDisplayNameLen-len(ext)]) + string(ext)
	}
	return s, nil
}
