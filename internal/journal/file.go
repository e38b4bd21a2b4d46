package journal

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileJournal writes pipeline events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileJournal struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileJournal creates a FileJournal that writes to the specified path.
// If the file exists, new events are appended. The file is created with
// permissions 0644 if it doesn't exist.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Record writes an event to the journal file.
// This method is safe for concurrent use.
func (j *FileJournal) Record(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	// Ignore encoding errors - recording must not disrupt the pipeline
	_ = j.encoder.Encode(event)
}

// Close closes the journal file.
// It is safe to call Close multiple times.
// After Close is called, subsequent Record calls are silently ignored.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true
	return j.file.Close()
}

// Compile-time interface satisfaction check.
var _ Journal = (*FileJournal)(nil)
