package records

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrConcurrentGrowth is returned when a reader keeps observing layout
// changes and gives up.
var ErrConcurrentGrowth = errors.New("record store layout changed during read")

const maxReadAttempts = 8

// Reader maps a store file read-only. It is meant for processes other than
// the simulator (analytics, the inspect command). It takes no lock; torn
// reads across a growth are detected through the header generation counter.
type Reader struct {
	columns
	file *os.File
}

// OpenReader maps the store at path read-only.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening record store for reading: %w", err)
	}
	r := &Reader{file: f}
	if err := r.remap(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) remap() error {
	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat record store: %w", err)
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mapping record store read-only: %w", err)
	}
	capacity, err := checkHeader(data)
	if err != nil {
		unix.Munmap(data)
		return err
	}
	if r.data != nil {
		unix.Munmap(r.data)
	}
	r.data = data
	r.capacity = capacity
	return nil
}

// Refresh remaps the file if the writer has grown it since the last mapping.
func (r *Reader) Refresh() error {
	if r.headerU64(offGeneration)&1 == 1 {
		return ErrConcurrentGrowth
	}
	if int64(r.headerU64(offCapacity)) == r.capacity {
		return nil
	}
	return r.remap()
}

// Capacity returns the capacity of the current mapping.
func (r *Reader) Capacity() int64 { return r.capacity }

// HighWater returns the writer's published high-water mark, clamped to the mapping.
func (r *Reader) HighWater() int64 {
	return min(int64(r.headerU64(offHighWater)), r.capacity)
}

// Generation returns the writer's layout generation (odd while growing).
func (r *Reader) Generation() uint64 {
	return r.headerU64(offGeneration)
}

// stable runs fn until it completes without a layout change underneath it.
func (r *Reader) stable(fn func() error) error {
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		if err := r.Refresh(); err != nil {
			if errors.Is(err, ErrConcurrentGrowth) {
				continue
			}
			return err
		}
		before := r.Generation()
		if int64(r.headerU64(offCapacity)) != r.capacity {
			continue
		}
		err := fn()
		if r.Generation() == before {
			return err
		}
	}
	return ErrConcurrentGrowth
}

// Get returns the record at idx as last written by the writer.
func (r *Reader) Get(idx int64) (Record, error) {
	var rec Record
	err := r.stable(func() error {
		if idx < 0 || idx >= r.HighWater() {
			return fmt.Errorf("index %d: %w", idx, ErrIndexOutOfRange)
		}
		rec = r.read(idx)
		if rec.ID == 0 {
			return fmt.Errorf("index %d: %w", idx, ErrSlotNotAllocated)
		}
		return nil
	})
	return rec, err
}

// ForEachLive calls fn for every allocated slot. If the writer grows the
// store mid-scan the scan restarts, so fn may see a record more than once.
func (r *Reader) ForEachLive(fn func(idx int64, rec Record) error) error {
	return r.stable(func() error {
		hw := r.HighWater()
		for i := int64(0); i < hw; i++ {
			rec := r.read(i)
			if rec.ID == 0 {
				continue
			}
			if err := fn(i, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close unmaps the file.
func (r *Reader) Close() error {
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
