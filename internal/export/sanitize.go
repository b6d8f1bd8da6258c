package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrInvalidOutputDir is returned by ValidateOutputDir.
var ErrInvalidOutputDir = errors.New("invalid output_dir")

// CleanName makes an uploaded video or export file name safe to store and
// to send in a Content-Disposition header. Control characters are dropped,
// separators and other unsafe runes become '_', repeated '_' collapse and
// leading dots are trimmed so the result is never hidden or relative. When
// truncated to maxLen runes the extension is kept. The result may be empty.
func CleanName(name string, maxLen int) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		if !isNameRune(r) {
			r = '_'
		}
		if r == '_' && lastUnderscore {
			continue
		}
		lastUnderscore = r == '_'
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	cleaned = strings.TrimLeft(cleaned, ". ")
	if strings.Trim(cleaned, "_") == "" {
		return ""
	}
	return truncateKeepExt(cleaned, maxLen)
}

func isNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')', '[', ']', '+':
		return true
	}
	return false
}

func truncateKeepExt(name string, maxLen int) string {
	runes := []rune(name)
	if maxLen <= 0 || len(runes) <= maxLen {
		return name
	}
	ext := []rune(filepath.Ext(name))
	if len(ext) >= maxLen {
		return string(runes[:maxLen])
	}
	stem := runes[:len(runes)-len(ext)]
	return strings.TrimSpace(string(stem[:maxLen-len(ext)])) + string(ext)
}

// Stem is the cleaned video name without its extension, or fallback.
func Stem(videoName, fallback string) string {
	stem := CleanName(strings.TrimSuffix(videoName, filepath.Ext(videoName)), 120)
	if stem == "" {
		return fallback
	}
	return stem
}

// ExportName is the download name of a run export,
// "<video stem>_storyboard.<ext>".
func ExportName(videoName, fallback, ext string) string {
	return Stem(videoName, fallback) + "_storyboard." + ext
}

// ValidateOutputDir accepts an existing, absolute, clean directory path.
// Relative paths are refused because they would resolve against the
// server's working directory.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidOutputDir)
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path traversal", ErrInvalidOutputDir)
		}
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%w: must be absolute", ErrInvalidOutputDir)
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: must be a clean path", ErrInvalidOutputDir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: does not exist", ErrInvalidOutputDir)
		}
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory", ErrInvalidOutputDir)
	}
	return nil
}
