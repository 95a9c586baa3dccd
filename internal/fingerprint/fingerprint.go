// Package fingerprint normalizes captured screen content into a compact
// stable form used to detect output activity when log mtime is unavailable.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const defaultLastLines = 40

// Normalize trims trailing whitespace from every line, drops trailing blank
// lines, and clamps the result to the last lastLines lines. lastLines <= 0
// uses the default of 40.
func Normalize(raw string, lastLines int) string {
	if lastLines <= 0 {
		lastLines = defaultLastLines
	}
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > lastLines {
		lines = lines[len(lines)-lastLines:]
	}
	return strings.Join(lines, "\n")
}

// Sum returns the hex digest of normalized content; the runtime store keeps
// the digest rather than the text so fingerprints compare cheaply.
func Sum(normalized string) string {
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// Capture normalizes raw screen content and returns its digest in one step.
func Capture(raw string, lastLines int) string {
	return Sum(Normalize(raw, lastLines))
}
