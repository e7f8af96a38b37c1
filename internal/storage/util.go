package storage

import (
	"os"
	"strings"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// LedgerName is the path convention {date}-{computerId} shared by every backend.
func LedgerName(date, computerID string) string {
	return date + "-" + SafeName(computerID)
}

// SafeName makes a computer id usable inside file names and keys.
func SafeName(value string) string {
	if value == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, value)
}
