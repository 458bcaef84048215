package database

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameBytes = 255

// SanitizeName strips directory components and control characters from a
// client-supplied file name and limits it to 255 bytes without splitting a rune.
func SanitizeName(name string) string {
	// Normalize Windows-style backslashes before taking the base name.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = truncateBytes(name[:len(name)-len(ext)], maxNameBytes-len(ext)) + ext
	}

	if name == "" || name == "." || name == ".." || name == "/" {
		name = "upload"
	}
	return name
}

// StoredNameFor derives the on-disk name for a display name. Spaces become
// underscores; everything else of the sanitized name is kept.
func StoredNameFor(displayName string) string {
	return strings.ReplaceAll(SanitizeName(displayName), " ", "_")
}

// ResolveStoredName returns desired if it is not taken, otherwise the first of
// stem_1.ext, stem_2.ext, ... that is free. A leading dot is part of the stem
// (".bashrc" becomes ".bashrc_1").
func ResolveStoredName(desired string, taken map[string]bool) string {
	if !taken[desired] {
		return desired
	}

	stem, ext := splitExt(desired)
	for i := 1; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := stem
		if len(base)+len(suffix)+len(ext) > maxNameBytes {
			base = truncateBytes(base, maxNameBytes-len(suffix)-len(ext))
		}
		candidate := base + suffix + ext
		if !taken[candidate] {
			return candidate
		}
	}
}

func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" || strings.HasSuffix(stem, ".") {
		return name, ""
	}
	return stem, ext
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
