package stash

import "github.com/cockroachdb/errors"

var (
	// ErrCorruptSnapshot is reported by New when the snapshot file exists but
	// cannot be decoded into the expected shape. Construction fails outright;
	// there is no partial recovery.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrSerialization is reported by Save when a stored value cannot be
	// encoded. The in-memory mutation is not rolled back; the last good
	// snapshot on disk is left untouched.
	ErrSerialization = errors.New("value not serializable")

	// ErrClosed is reported by Save after Close. Reads keep serving from
	// memory; mutations after Close are dropped.
	ErrClosed = errors.New("store closed")
)
