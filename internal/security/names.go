// Package security validates operator input that ends up in result paths.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateLocalName checks that an operator-supplied file name stays inside
// the directory it is joined to: it must be relative and must not climb out
// with "..".
func ValidateLocalName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty file name")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("absolute path %q not allowed", name)
	}
	if !filepath.IsLocal(name) {
		return fmt.Errorf("path traversal detected: %q escapes the results directory", name)
	}
	return nil
}

// SanitizeRemark makes a remark safe to embed in a file name. Characters
// other than ASCII letters, digits, dot, underscore and dash become a single
// underscore, and the result is limited to 64 bytes. Leading underscores are
// kept since they separate a suffix from the base remark.
func SanitizeRemark(s string) string {
	const maxLen = 64
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), ".")
}
