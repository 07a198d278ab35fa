package captag

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// maxNameLen bounds content-derived filename stems.
var maxNameLen = 120

// UniqueName returns a filename that does not yet exist in dir, appending _1, _2, ... to the stem as needed.
func UniqueName(dir string, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 1; ; n++ {
		_, err := os.Lstat(filepath.Join(dir, candidate))
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

// SanitizeName turns caption text into a filesystem-safe stem: letters, digits, spaces,
// periods and underscores are kept, everything else becomes an underscore.
func SanitizeName(text string) string {
	text = strings.Join(strings.Fields(text), " ")

	var sb strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ', r == '.', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}

	s := strings.Trim(truncate(sb.String(), maxNameLen), " .")
	if s == "" {
		return "image"
	}
	return s
}

// ContentName derives a collision-free filename in dir from caption text and the original extension.
func ContentName(dir string, text string, ext string) (string, error) {
	return UniqueName(dir, SanitizeName(text)+strings.ToLower(ext))
}
