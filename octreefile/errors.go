package octreefile

import "github.com/pkg/errors"

var (
	// ErrFormat is returned, wrapped, when a persisted artifact is corrupt or truncated inside a
	// record. It is never worth retrying.
	ErrFormat = errors.New("invalid octree file format")
	// ErrNodeMissing is returned, wrapped, when a node file that should exist is absent.
	ErrNodeMissing = errors.New("octree node file missing")
)

func formatErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}
