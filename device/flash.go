package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrFlashBounds is returned for writes past the flash capacity.
var ErrFlashBounds = errors.New("write exceeds flash capacity")

// Flash is the storage a downloaded image is written to. Writes arrive in chunk
// order; nothing is active until MarkUpdated is called.
type Flash interface {
	// Capacity returns the largest image the flash can hold
	Capacity() uint32

	// Write stores data at offset in the staging area
	Write(offset uint32, data []byte) error

	// MarkUpdated commits a verified image of size bytes
	MarkUpdated(size uint32) error

	// Discard drops everything written since the last commit
	Discard() error
}

// MemoryFlash is a Flash held in memory. It is safe for concurrent use.
type MemoryFlash struct {
	mu        sync.Mutex
	staging   []byte
	committed []byte
	updates   int
}

// NewMemoryFlash returns a MemoryFlash with the given capacity.
func NewMemoryFlash(capacity uint32) *MemoryFlash {
	return &MemoryFlash{staging: make([]byte, capacity)}
}

func (f *MemoryFlash) Capacity() uint32 {
	return uint32(len(f.staging))
}

func (f *MemoryFlash) Write(offset uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if uint64(offset)+uint64(len(data)) > uint64(len(f.staging)) {
		return fmt.Errorf("%w: %d bytes at offset %d", ErrFlashBounds, len(data), offset)
	}
	copy(f.staging[offset:], data)
	return nil
}

func (f *MemoryFlash) MarkUpdated(size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size > uint32(len(f.staging)) {
		return fmt.Errorf("%w: image of %d bytes", ErrFlashBounds, size)
	}
	f.committed = append([]byte(nil), f.staging[:size]...)
	f.updates++
	return nil
}

func (f *MemoryFlash) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.staging)
	return nil
}

// Image returns a copy of the committed image, or nil if none was committed.
func (f *MemoryFlash) Image() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.committed == nil {
		return nil
	}
	return append([]byte(nil), f.committed...)
}

// Updates returns how many images have been committed.
func (f *MemoryFlash) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

// FileFlash stages the image in a temporary file next to path and renames it
// into place on commit, so path only ever holds a verified image.
type FileFlash struct {
	path     string
	capacity uint32
	tmp      *os.File
}

// NewFileFlash returns a FileFlash that commits to path.
func NewFileFlash(path string, capacity uint32) *FileFlash {
	return &FileFlash{path: path, capacity: capacity}
}

func (f *FileFlash) Capacity() uint32 { return f.capacity }

// Path returns the file a committed image is written to.
func (f *FileFlash) Path() string { return f.path }

func (f *FileFlash) Write(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(f.capacity) {
		return fmt.Errorf("%w: %d bytes at offset %d", ErrFlashBounds, len(data), offset)
	}
	if f.tmp == nil {
		tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
		if err != nil {
			return fmt.Errorf("create staging file: %w", err)
		}
		f.tmp = tmp
	}
	if _, err := f.tmp.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("write staging file: %w", err)
	}
	return nil
}

func (f *FileFlash) MarkUpdated(size uint32) error {
	if f.tmp == nil {
		return errors.New("nothing staged")
	}
	tmp := f.tmp
	f.tmp = nil

	if err := tmp.Truncate(int64(size)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("truncate staging file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit image: %w", err)
	}
	return nil
}

func (f *FileFlash) Discard() error {
	if f.tmp == nil {
		return nil
	}
	tmp := f.tmp
	f.tmp = nil
	tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}
