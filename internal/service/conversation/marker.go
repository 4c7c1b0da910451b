package conversation

import "strings"

// stripEndMarker removes every occurrence of marker and reports whether
// there was one.
func stripEndMarker(reply, marker string) (string, bool) {
	if marker == "" || !strings.Contains(reply, marker) {
		return strings.TrimSpace(reply), false
	}
	return strings.TrimSpace(strings.ReplaceAll(reply, marker, "")), true
}
