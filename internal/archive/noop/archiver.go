// Package noop provides an archiver that discards everything.
package noop

import "context"

// Archiver drops raw responses. Used when archiving is disabled.
type Archiver struct{}

// New creates a no-op Archiver.
func New() *Archiver {
	return &Archiver{}
}

// Archive discards the data and returns an empty URI.
func (Archiver) Archive(_ context.Context, _ string, _ []byte) (string, error) {
	return "", nil
}
