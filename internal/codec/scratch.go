package codec

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ScratchDir is a Shop-owned temp directory that outlives every
// Buffer it hands out; Buffers hold only a borrowed reference to it,
// per the "spill-to-disk writer" design note — the directory is never
// removed out from under a buffer still writing to it.
type ScratchDir struct {
	path string
}

// NewScratchDir creates a fresh temp directory for the process
// lifetime of one Shop.
func NewScratchDir() (*ScratchDir, error) {
	path, err := os.MkdirTemp("", "brew-scratch-")
	if err != nil {
		return nil, err
	}
	return &ScratchDir{path: path}, nil
}

// Close removes the scratch directory and everything left in it. Call
// only after every Buffer obtained from it has been closed.
func (d *ScratchDir) Close() error {
	return os.RemoveAll(d.path)
}

// Buffer is a write-once, read-many spill file: created write-only,
// flushed, then reopened read-only for upload; the underlying file is
// unlinked when the reader returned by Reopen is closed.
type Buffer struct {
	dir  *ScratchDir
	path string
	f    *os.File
}

// NewBuffer creates a new uniquely-named write-only scratch file
// inside d.
func (d *ScratchDir) NewBuffer() (*Buffer, error) {
	path := filepath.Join(d.path, "disk-buffer-"+uuid.NewString()+".bin")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &Buffer{dir: d, path: path, f: f}, nil
}

// Write forwards to the underlying write-only file handle, letting a
// Buffer be passed as a borrowed io.Writer to compression code that
// requires an owned writer, without surrendering ownership of the file.
func (b *Buffer) Write(p []byte) (int, error) {
	return b.f.Write(p)
}

// Close flushes and closes the current handle (write or read side).
// It does not unlink the file; closing the reader returned by Reopen
// removes it from disk, and ScratchDir.Close removes any file left.
func (b *Buffer) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Reopen flushes the write handle and reopens the file read-only,
// returning a ReadCloser whose Close also unlinks the scratch file.
func (b *Buffer) Reopen() (*spillReader, error) {
	if err := b.Close(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	return &spillReader{f: f, path: b.path}, nil
}

// spillReader unlinks its backing file when closed.
type spillReader struct {
	f    *os.File
	path string
}

func (r *spillReader) Read(p []byte) (int, error) {
	return r.f.Read(p)
}

func (r *spillReader) Close() error {
	err := r.f.Close()
	_ = os.Remove(r.path)
	return err
}
