package store

import (
	"fmt"
	"strings"
)

const Separator = "/"

// ValidatePath rejects empty paths and empty segments.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, Separator) {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, p)
		}
	}
	return nil
}

// within reports whether path is root or below it.
func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+Separator)
}

// related reports whether a change at changed affects a subscription to sub.
func related(changed, sub string) bool {
	return within(changed, sub) || within(sub, changed)
}
