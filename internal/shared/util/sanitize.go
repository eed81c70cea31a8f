package util

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsafePath is returned when a name would escape its base directory.
var ErrUnsafePath = errors.New("unsafe path")

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxSegmentLen = 128

// ValidateSegment reports whether s is usable as a single directory name.
func ValidateSegment(s string) error {
	if len(s) == 0 || len(s) > maxSegmentLen {
		return ErrUnsafePath
	}
	if strings.Contains(s, "..") || !segmentPattern.MatchString(s) {
		return ErrUnsafePath
	}
	return nil
}

// SafeJoin joins name onto base and fails if the result leaves base.
func SafeJoin(base, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", ErrUnsafePath
	}
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, name)
	rel, err := filepath.Rel(cleanBase, joined)
	if err != nil {
		return "", ErrUnsafePath
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return joined, nil
}
