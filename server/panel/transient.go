package panel

import (
	"errors"
	"io"
	"strings"
	"syscall"
)

var transientMarkers = []string{
	"GOAWAY",
	"connection reset",
	"broken pipe",
	"unexpected EOF",
}

// isTransient reports whether a transport error is worth retrying: the
// connection was dropped under us rather than refused or misaddressed.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
