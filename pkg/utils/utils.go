package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ChangeHash generates a SHA256 hash identifying a (path, content) proposal.
// The NUL separator keeps "a" + "bc" distinct from "ab" + "c".
func ChangeHash(path, content string) string {
	hash := sha256.Sum256([]byte(path + "\x00" + content))
	return hex.EncodeToString(hash[:])
}

// GetTimestamp returns a formatted timestamp string suitable for filenames.
func GetTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000")
}

// SanitizeTimestamp converts a timestamp string into a filename-safe format.
func SanitizeTimestamp(timestamp string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.ReplaceAll(timestamp, " ", "_"), ":", "-"), ".", "")
}

// Tail returns at most n trailing bytes of s, skipping a leading partial
// rune if the cut landed inside one.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	t := s[len(s)-n:]
	for i := 0; i < len(t) && i < 4; i++ {
		if t[i]&0xC0 != 0x80 {
			return t[i:]
		}
	}
	return t
}

// LastLines returns the final n non-empty lines of s.
func LastLines(s string, n int) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
