package model

import "context"

// Writer defines a generic interface for writing a statistics snapshot to a persistent store.
type Writer interface {
	// Name returns the writer type, e.g. "sqlite".
	Name() string

	// Write persists the whole snapshot as one logical unit.
	Write(ctx context.Context, snapshot *Snapshot) error

	// Close releases connections or files held by the writer.
	Close() error
}
