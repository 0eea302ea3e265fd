// Package utils holds tiny helpers with no domain dependencies.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// plain integer. Used for query parameters like ?limit=.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
