//go:build linux

package checkpoint

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// initialMapSize is the starting size of a region file; grown (remap) if
// a Sync needs more room than the current mapping offers.
const initialMapSize = 64 * 1024

type mapping struct {
	mu   sync.Mutex
	file *os.File
	data []byte // mmap'd region
}

func openMapping(path string) (*mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open region file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size < initialMapSize {
		if err := f.Truncate(initialMapSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("checkpoint: truncate region file %s: %w", path, err)
		}
		size = initialMapSize
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("checkpoint: mmap region file %s: %w", path, err)
	}
	return &mapping{file: f, data: data}, nil
}

func (m *mapping) read() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	// The encoded document is length-prefixed (first 8 bytes, little
	// endian) so reads don't pick up trailing zero-fill from the mapping.
	if len(m.data) < 8 {
		return nil
	}
	n := int(le64(m.data[:8]))
	if n <= 0 || n > len(m.data)-8 {
		return nil
	}
	out := make([]byte, n)
	copy(out, m.data[8:8+n])
	return out
}

func (m *mapping) writeAsync(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needed := 8 + len(data)
	if needed > len(m.data) {
		if err := m.growLocked(needed); err != nil {
			return
		}
	}
	putLE64(m.data[:8], uint64(len(data)))
	copy(m.data[8:], data)
	_ = unix.Msync(m.data, unix.MS_ASYNC)
}

func (m *mapping) growLocked(needed int) error {
	newSize := len(m.data)
	if newSize == 0 {
		newSize = initialMapSize
	}
	for newSize < needed {
		newSize *= 2
	}
	if err := m.file.Truncate(int64(newSize)); err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	data, err := unix.Mmap(int(m.file.Fd()), 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

func (m *mapping) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = unix.Msync(m.data, unix.MS_SYNC)
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	return m.file.Close()
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
