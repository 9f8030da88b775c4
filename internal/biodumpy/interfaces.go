package biodumpy

import (
	"context"
	"io"
	"time"
)

// Input downloads records for a single element from one remote database.
type Input interface {
	Name() string
	Settings() Settings
	Download(ctx context.Context, el Element) (Payload, error)
}

// BlobStore writes encoded dumps and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// DumpRecorder is notified after every successful dump (manifest rows,
// notifications, job bookkeeping).
type DumpRecorder interface {
	RecordDump(ctx context.Context, dump Dump) error
}

// Observer receives progress callbacks from the runner.
type Observer interface {
	ElementStarted(el Element, index, total int)
	ModuleFinished(module string, el Element, records int, err error)
	Dumped(dump Dump)
}

// Hasher computes digests of encoded dumps.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
