// Package util contains helper functions used around the code.
package util

import "strings"

// In returns true if s is found in ss, false otherwise
func In[T comparable](ss []T, s T) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}

	return false
}

// SingleLine reports whether s is not empty and holds no line break, so it can be stored as one line of a file.
func SingleLine(s string) bool {
	return s != "" && !strings.ContainsAny(s, "\r\n")
}
