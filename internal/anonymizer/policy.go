package anonymizer

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/raaihank/pii-vault/internal/config"
)

// filePolicy decides how each path under the input root is handled.
// Globs are doublestar patterns matched against slash-separated paths
// relative to the input root; excludes win over includes.
type filePolicy struct {
	fileTypes map[string]bool
	includes  []string
	excludes  []string
}

func newFilePolicy(cfg config.AnonymizerConfig) *filePolicy {
	types := make(map[string]bool, len(cfg.FileTypes))
	for _, ext := range cfg.FileTypes {
		types[strings.ToLower(ext)] = true
	}
	return &filePolicy{
		fileTypes: types,
		includes:  cfg.IncludePatterns,
		excludes:  cfg.ExcludePatterns,
	}
}

// excludeDir reports whether a directory subtree should be pruned.
func (p *filePolicy) excludeDir(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	for _, pattern := range p.excludes {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
		// A pattern like **/.git/** prunes the directory it names, not
		// just its contents.
		if trimmed := strings.TrimSuffix(pattern, "/**"); trimmed != pattern {
			if match, _ := doublestar.Match(trimmed, rel); match {
				return true
			}
		}
	}
	return false
}

// excluded reports whether a file matches an exclude glob (full relative
// path or bare name).
func (p *filePolicy) excluded(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	name := filepath.Base(relPath)
	for _, pattern := range p.excludes {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
		if match, _ := doublestar.Match(pattern, name); match {
			return true
		}
	}
	return false
}

// included reports whether a file passes the include globs; an empty
// include list admits everything.
func (p *filePolicy) included(relPath string) bool {
	if len(p.includes) == 0 {
		return true
	}
	rel := filepath.ToSlash(relPath)
	for _, pattern := range p.includes {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
	}
	return false
}

// isTextType reports whether the extension is on the text allowlist; an
// empty allowlist admits everything.
func (p *filePolicy) isTextType(relPath string) bool {
	if len(p.fileTypes) == 0 {
		return true
	}
	return p.fileTypes[strings.ToLower(filepath.Ext(relPath))]
}

// sniffLimit bounds how much of a file the binary sniff inspects.
const sniffLimit = 8 * 1024

// looksBinary reports whether content cannot be treated as text: a NUL
// byte or invalid UTF-8 inside the sniff window.
func looksBinary(content []byte) bool {
	window := content
	if len(window) > sniffLimit {
		window = window[:sniffLimit]
	}

	if bytes.IndexByte(window, 0) >= 0 {
		return true
	}

	// The window may end mid-rune; ignore a trailing partial sequence.
	for len(window) > 0 {
		r, size := utf8.DecodeRune(window)
		if r == utf8.RuneError && size == 1 {
			if len(window) < utf8.UTFMax && len(content) > sniffLimit {
				return false
			}
			return true
		}
		window = window[size:]
	}

	return false
}
