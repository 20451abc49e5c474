package records

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// ErrStoreExhausted is returned when the store cannot grow. Callers treat it as fatal.
	ErrStoreExhausted = errors.New("record store exhausted")
	// ErrIndexOutOfRange is returned for indices outside the allocated range.
	ErrIndexOutOfRange = errors.New("record index out of range")
	// ErrSlotNotAllocated is returned when accessing or releasing a free slot.
	ErrSlotNotAllocated = errors.New("record slot not allocated")
	// ErrStoreLocked is returned when another writer holds the backing file.
	ErrStoreLocked = errors.New("record store locked by another writer")
	// ErrBadFormat is returned when a backing file is not a record store.
	ErrBadFormat = errors.New("not a record store file")
)

// DefaultInitialCapacity is used when Options.InitialCapacity is zero.
const DefaultInitialCapacity = 1024

// Options configures a Store.
type Options struct {
	InitialCapacity int64 // slots mapped at creation (default DefaultInitialCapacity)
	MaxCapacity     int64 // growth ceiling in slots; 0 = unbounded
}

// Store is the single-writer record arena. It is NOT safe for concurrent use;
// the simulator's phase order is the only synchronisation (see package sim).
type Store struct {
	columns
	path        string
	file        *os.File // nil for anonymous stores
	highWater   int64    // slots [0, highWater) have been handed out at least once
	maxCapacity int64
	nextID      uint64
	generation  uint64
	free        []int64 // LIFO free pool
}

// NewMemory creates a store backed by an anonymous mapping.
func NewMemory(opts Options) (*Store, error) {
	capacity := initialCapacity(opts)
	data, err := unix.Mmap(-1, 0, int(fileSize(capacity)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping anonymous store: %w", err)
	}
	s := &Store{
		columns:     columns{data: data, capacity: capacity},
		maxCapacity: opts.MaxCapacity,
		nextID:      1,
	}
	s.initHeader()
	return s, nil
}

// Create creates (or truncates) a file-backed store at path. An empty path
// yields an anonymous store.
func Create(path string, opts Options) (*Store, error) {
	if path == "" {
		return NewMemory(opts)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating record store: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	capacity := initialCapacity(opts)
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating record store: %w", err)
	}
	if err := f.Truncate(fileSize(capacity)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing record store: %w: %w", ErrStoreExhausted, err)
	}
	data, err := mapFile(f, fileSize(capacity))
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &Store{
		columns:     columns{data: data, capacity: capacity},
		path:        path,
		file:        f,
		maxCapacity: opts.MaxCapacity,
		nextID:      1,
	}
	s.initHeader()
	logrus.Debugf("record store created at %s with capacity %d", path, capacity)
	return s, nil
}

// Open reopens an existing file-backed store. The free pool is rebuilt from
// zero ids below the high-water mark.
func Open(path string, opts Options) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat record store: %w", err)
	}
	data, err := mapFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	capacity, err := checkHeader(data)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	s := &Store{
		columns:     columns{data: data, capacity: capacity},
		path:        path,
		file:        f,
		maxCapacity: opts.MaxCapacity,
	}
	s.highWater = int64(s.headerU64(offHighWater))
	s.nextID = s.headerU64(offNextID)
	s.generation = s.headerU64(offGeneration) &^ 1
	for i := s.highWater - 1; i >= 0; i-- {
		if s.u64(colID, i) == 0 {
			s.free = append(s.free, i)
		}
	}
	logrus.Infof("record store reopened at %s: capacity=%d live=%d", path, capacity, s.Live())
	return s, nil
}

func initialCapacity(opts Options) int64 {
	c := opts.InitialCapacity
	if c <= 0 {
		c = DefaultInitialCapacity
	}
	if opts.MaxCapacity > 0 && c > opts.MaxCapacity {
		c = opts.MaxCapacity
	}
	return c
}

func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%s: %w", f.Name(), ErrStoreLocked)
		}
		return fmt.Errorf("locking record store: %w", err)
	}
	return nil
}

func mapFile(f *os.File, size int64) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping record store: %w", err)
	}
	return data, nil
}

func checkHeader(data []byte) (int64, error) {
	if len(data) < headerSize || !bytes.Equal(data[offMagic:offMagic+8], magic[:]) {
		return 0, ErrBadFormat
	}
	if v := le.Uint32(data[offVersion:]); v != formatVersion {
		return 0, fmt.Errorf("%w: version %d", ErrBadFormat, v)
	}
	if w := le.Uint32(data[offWidth:]); int(w) != RecordWidth {
		return 0, fmt.Errorf("%w: record width %d, want %d", ErrBadFormat, w, RecordWidth)
	}
	capacity := int64(le.Uint64(data[offCapacity:]))
	if fileSize(capacity) > int64(len(data)) {
		return 0, fmt.Errorf("%w: capacity %d exceeds file size %d", ErrBadFormat, capacity, len(data))
	}
	return capacity, nil
}

func (s *Store) initHeader() {
	copy(s.data[offMagic:], magic[:])
	le.PutUint32(s.data[offVersion:], formatVersion)
	le.PutUint32(s.data[offWidth:], uint32(RecordWidth))
	s.writeHeader()
}

func (s *Store) writeHeader() {
	s.putHeaderU64(offCapacity, uint64(s.capacity))
	s.putHeaderU64(offHighWater, uint64(s.highWater))
	s.putHeaderU64(offNextID, s.nextID)
	s.putHeaderU64(offGeneration, s.generation)
}

// Path returns the backing file path, or "" for anonymous stores.
func (s *Store) Path() string { return s.path }

// Capacity returns the number of mapped slots.
func (s *Store) Capacity() int64 { return s.capacity }

// HighWater returns one past the highest slot ever handed out.
func (s *Store) HighWater() int64 { return s.highWater }

// Live returns the number of allocated slots.
func (s *Store) Live() int64 { return s.highWater - int64(len(s.free)) }

// FreeSlots returns the number of released slots waiting for reuse.
func (s *Store) FreeSlots() int { return len(s.free) }

// NextID returns a fresh customer id. Ids start at 1 and are never reused.
func (s *Store) NextID() uint64 {
	id := s.nextID
	s.nextID++
	s.putHeaderU64(offNextID, s.nextID)
	return id
}

// AllocateIndex returns a slot index, preferring released slots, then
// never-used slots, and growing the mapping as a last resort.
// The returned slot must be initialised with Put before use.
func (s *Store) AllocateIndex() (int64, error) {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		return idx, nil
	}
	if s.highWater >= s.capacity {
		if err := s.grow(); err != nil {
			return -1, err
		}
	}
	idx := s.highWater
	s.highWater++
	s.putHeaderU64(offHighWater, uint64(s.highWater))
	return idx, nil
}

// AllocateIndices allocates n slots. On error the slots already taken are returned to the pool.
func (s *Store) AllocateIndices(n int) ([]int64, error) {
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		idx, err := s.AllocateIndex()
		if err != nil {
			for j := len(out) - 1; j >= 0; j-- {
				s.free = append(s.free, out[j])
			}
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// ReleaseIndex marks the slot free. Only the id column is cleared.
func (s *Store) ReleaseIndex(idx int64) error {
	if err := s.checkLive(idx); err != nil {
		return err
	}
	s.putU64(colID, idx, 0)
	s.free = append(s.free, idx)
	return nil
}

func (s *Store) checkRange(idx int64) error {
	if idx < 0 || idx >= s.highWater {
		return fmt.Errorf("index %d (high water %d): %w", idx, s.highWater, ErrIndexOutOfRange)
	}
	return nil
}

func (s *Store) checkLive(idx int64) error {
	if err := s.checkRange(idx); err != nil {
		return err
	}
	if s.u64(colID, idx) == 0 {
		return fmt.Errorf("index %d: %w", idx, ErrSlotNotAllocated)
	}
	return nil
}

// Get returns the record at idx. The slot must be allocated.
func (s *Store) Get(idx int64) (Record, error) {
	if err := s.checkLive(idx); err != nil {
		return Record{}, err
	}
	return s.read(idx), nil
}

// Put overwrites every column of the slot. r.ID must be non-zero; use
// ReleaseIndex to free a slot.
func (s *Store) Put(idx int64, r Record) error {
	if err := s.checkRange(idx); err != nil {
		return err
	}
	if r.ID == 0 {
		return fmt.Errorf("put index %d with zero id: %w", idx, ErrSlotNotAllocated)
	}
	s.write(idx, r)
	return nil
}

// Update applies fn to the record at idx in place. fn must not change the id.
func (s *Store) Update(idx int64, fn func(*Record)) error {
	r, err := s.Get(idx)
	if err != nil {
		return err
	}
	id := r.ID
	fn(&r)
	if r.ID != id {
		panic(fmt.Sprintf("records: Update changed id of slot %d from %d to %d", idx, id, r.ID))
	}
	s.write(idx, r)
	return nil
}

// ID returns the id column of a slot below the high-water mark (0 = free).
func (s *Store) ID(idx int64) uint64 {
	s.mustRange(idx)
	return s.u64(colID, idx)
}

// State returns the state column of a slot below the high-water mark.
func (s *Store) State(idx int64) State {
	s.mustRange(idx)
	return State(s.data[s.offset(colState, idx)])
}

// PathID returns the path column of a slot below the high-water mark.
func (s *Store) PathID(idx int64) uint32 {
	s.mustRange(idx)
	return s.u32(colPath, idx)
}

// AccrueTime adds dt to the wait column for waiting/transferring records and
// to the travel column for onboard records. Free and arrived slots are untouched.
func (s *Store) AccrueTime(idx int64, dt float64) {
	s.mustRange(idx)
	if s.u64(colID, idx) == 0 {
		return
	}
	switch State(s.data[s.offset(colState, idx)]) {
	case StateWaiting, StateTransferring:
		s.putF64(colWait, idx, s.f64(colWait, idx)+dt)
	case StateOnboard:
		s.putF64(colTravel, idx, s.f64(colTravel, idx)+dt)
	}
}

func (s *Store) mustRange(idx int64) {
	if idx < 0 || idx >= s.highWater {
		panic(fmt.Sprintf("records: index %d out of range [0, %d)", idx, s.highWater))
	}
}

// ForEachLive calls fn for every allocated slot in index order.
func (s *Store) ForEachLive(fn func(idx int64, r Record) error) error {
	for i := int64(0); i < s.highWater; i++ {
		if s.u64(colID, i) == 0 {
			continue
		}
		if err := fn(i, s.read(i)); err != nil {
			return err
		}
	}
	return nil
}

// grow doubles the capacity (clamped to MaxCapacity) and relocates columns.
// The generation counter is odd while the layout is in flux so that readers
// in other processes can detect a torn read.
func (s *Store) grow() error {
	oldCap := s.capacity
	newCap := oldCap * 2
	if s.maxCapacity > 0 && newCap > s.maxCapacity {
		newCap = s.maxCapacity
	}
	if newCap <= oldCap {
		return fmt.Errorf("capacity %d at ceiling %d: %w", oldCap, s.maxCapacity, ErrStoreExhausted)
	}

	s.generation++
	s.putHeaderU64(offGeneration, s.generation)

	newSize := fileSize(newCap)
	if s.file == nil {
		data, err := unix.Mmap(-1, 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			s.generation++
			s.putHeaderU64(offGeneration, s.generation)
			return fmt.Errorf("growing to %d slots: %w: %w", newCap, ErrStoreExhausted, err)
		}
		copy(data, s.data)
		if err := unix.Munmap(s.data); err != nil {
			logrus.Warnf("unmapping old anonymous store: %v", err)
		}
		s.data = data
	} else {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("unmapping before growth: %w: %w", ErrStoreExhausted, err)
		}
		s.data = nil
		if err := s.file.Truncate(newSize); err != nil {
			return fmt.Errorf("extending %s to %d bytes: %w: %w", s.path, newSize, ErrStoreExhausted, err)
		}
		data, err := mapFile(s.file, newSize)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreExhausted, err)
		}
		s.data = data
	}

	s.capacity = newCap
	s.relocate(oldCap)
	s.generation++
	s.writeHeader()
	logrus.Infof("record store grown from %d to %d slots", oldCap, newCap)
	return nil
}

// Flush persists the mapping. Mutations are not durable before Flush returns.
func (s *Store) Flush() error {
	if s.data == nil {
		return fmt.Errorf("flush: %w", ErrStoreExhausted)
	}
	s.writeHeader()
	if s.file == nil {
		return nil
	}
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("syncing record store: %w", err)
	}
	return nil
}

// Close flushes and unmaps the store.
func (s *Store) Close() error {
	if s.data == nil {
		if s.file != nil {
			return s.file.Close()
		}
		return nil
	}
	err := s.Flush()
	if uerr := unix.Munmap(s.data); uerr != nil && err == nil {
		err = fmt.Errorf("unmapping record store: %w", uerr)
	}
	s.data = nil
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
