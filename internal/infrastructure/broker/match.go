package broker

import (
	stderrors "errors"
	"strings"
)

// matchEvent reports whether name matches pattern. Segments are separated by
// dots; "*" matches one segment and "**" matches any remainder.
func matchEvent(pattern, name string) bool {
	if pattern == name || pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	return matchSegments(strings.Split(pattern, "."), strings.Split(name, "."))
}

func matchSegments(pattern, name []string) bool {
	for i, p := range pattern {
		if p == "**" {
			return true
		}
		if i >= len(name) {
			return false
		}
		if p != "*" && p != name[i] {
			return false
		}
	}
	return len(pattern) == len(name)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return stderrors.Join(errs...)
}
