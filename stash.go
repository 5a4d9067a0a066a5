package stash

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Store is a file-persisted key-value store with per-entry TTL expiration
// and debounced write-back. A key holds either a single scalar entry or an
// ordered list of entries; the two shapes are disjoint at read time.
//
// All methods are safe for concurrent use. The in-memory map is
// authoritative; the snapshot file trails it by at most the debounce window
// plus the final flush performed by Close.
type Store struct {
	mu    sync.Mutex
	data  map[string]*slot
	path  string
	cfg   config
	timer *time.Timer
	// lastHash is the xxhash of the last snapshot written, used to skip
	// disk writes when the encoded content has not changed.
	lastHash uint64
	closed   bool
	once     sync.Once
	closeErr error
}

// New opens the store backed by the snapshot file at path. If the file
// exists it is loaded verbatim, stale entries included; they stay invisible
// to reads and are swept on the next Save. If it does not exist, the store
// starts from the WithInitialData seed (or empty) and persists immediately
// so the file exists after construction.
//
// A file that exists but does not decode fails construction with
// ErrCorruptSnapshot.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot path required")
	}
	s := &Store{
		data: make(map[string]*slot),
		path: path,
		cfg:  applyOptions(opts),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the live scalar value stored at key. Keys holding a list, a
// stale entry, or nothing at all return (nil, false). Get never mutates the
// store; stale entries are only removed by Save.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.data[key]
	if !ok || sl.scalar == nil {
		return nil, false
	}
	if !sl.scalar.live(time.Now()) {
		return nil, false
	}
	return sl.scalar.Value, true
}

// Set overwrites key with a fresh scalar entry, replacing a list slot if one
// was there, and schedules a write-back. ttl semantics: DefaultTTL uses the
// store default, NoExpiration (or any negative value) never expires, a
// positive value expires that far from now.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropIfClosed("Set", key) {
		return
	}
	s.data[key] = &slot{scalar: &Entry{Value: value, Expires: s.expiresAt(ttl)}}
	s.scheduleFlushLocked()
}

// List returns the live values of the list stored at key, in insertion
// order. Keys holding a scalar or nothing return an empty slice. The result
// is a snapshot, not a live view.
func (s *Store) List(key string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.data[key]
	if !ok || sl.scalar != nil {
		return nil
	}
	now := time.Now()
	out := make([]any, 0, len(sl.list))
	for _, e := range sl.list {
		if e.live(now) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Push appends a new entry to the list at key, coercing an absent or scalar
// slot into a new single-element list, and schedules a write-back.
func (s *Store) Push(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropIfClosed("Push", key) {
		return
	}
	e := Entry{Value: value, Expires: s.expiresAt(ttl)}
	if sl, ok := s.data[key]; ok && sl.scalar == nil {
		sl.list = append(sl.list, e)
	} else {
		s.data[key] = &slot{list: []Entry{e}}
	}
	s.scheduleFlushLocked()
}

// Pull removes every entry from the list at key whose value satisfies
// match, preserving the order of survivors, and schedules a write-back.
// A no-op when key does not hold a list.
func (s *Store) Pull(key string, match func(value any) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropIfClosed("Pull", key) {
		return
	}
	sl, ok := s.data[key]
	if !ok || sl.scalar != nil {
		return
	}
	kept := sl.list[:0]
	for _, e := range sl.list {
		if !match(e.Value) {
			kept = append(kept, e)
		}
	}
	sl.list = kept
	s.scheduleFlushLocked()
}

// PullValue removes every entry deep-equal to value from the list at key.
// Equality is evaluated against the in-memory representation: after a
// reload, numbers decoded by the JSON codec compare as float64.
func (s *Store) PullValue(key string, value any) {
	s.Pull(key, func(v any) bool { return reflect.DeepEqual(v, value) })
}

// Delete removes the slot at key regardless of shape and schedules a
// write-back.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropIfClosed("Delete", key) {
		return
	}
	delete(s.data, key)
	s.scheduleFlushLocked()
}

// Clear discards every key and schedules a write-back.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropIfClosed("Clear", "") {
		return
	}
	s.data = make(map[string]*slot)
	s.scheduleFlushLocked()
}

// Has reports whether key holds any live content, scalar or list.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.data[key]
	return ok && sl.hasLive(time.Now())
}

// Len counts the keys holding live content.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for _, sl := range s.data {
		if sl.hasLive(now) {
			n++
		}
	}
	return n
}

// Keys returns the sorted keys holding live content.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	keys := make([]string, 0, len(s.data))
	for key, sl := range s.data {
		if sl.hasLive(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// TTL returns the remaining lifetime of the live scalar entry at key.
// Eternal entries report (NoExpiration, true). Absent, stale, and list
// slots report (0, false).
func (s *Store) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.data[key]
	if !ok || sl.scalar == nil {
		return 0, false
	}
	if sl.scalar.Expires == 0 {
		return NoExpiration, true
	}
	now := time.Now()
	if !sl.scalar.live(now) {
		return 0, false
	}
	return time.UnixMilli(sl.scalar.Expires).Sub(now), true
}

// Save cancels any pending write-back, sweeps stale entries out of the
// in-memory map, and rewrites the snapshot file atomically. This is the only
// code path that removes stale data; reads just filter their own output.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.saveLocked()
}

// Close flushes a pending write-back, if any, and retires the store.
// Mutations after Close are dropped; reads keep serving from memory.
// Close is idempotent and returns the error of the final flush.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		pending := s.timer != nil
		s.closed = true
		if pending {
			s.closeErr = s.saveLocked()
		}
	})
	return s.closeErr
}

// Path returns the snapshot file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// As returns the live scalar value at key as T. Values written in the
// current process are returned by direct type assertion; values loaded from
// a snapshot come back as the codec's generic shapes and are recovered by a
// round-trip through the codec.
func As[T any](s *Store, key string) (bool, T, error) {
	val, ok := s.Get(key)
	if !ok {
		var zero T
		return false, zero, nil
	}
	out, err := convert[T](s.cfg.codec, val)
	if err != nil {
		var zero T
		return false, zero, err
	}
	return true, out, nil
}

// ListAs returns the live list values at key as []T, converting each element
// the same way As does.
func ListAs[T any](s *Store, key string) ([]T, error) {
	vals := s.List(key)
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		t, err := convert[T](s.cfg.codec, v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func convert[T any](c Codec, val any) (T, error) {
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	var out T
	data, err := c.Marshal(val)
	if err != nil {
		return out, errors.Wrapf(errors.Mark(err, ErrSerialization), "convert %T", val)
	}
	if err := c.Unmarshal(data, &out); err != nil {
		return out, errors.Newf("cannot convert value of type %T to %T", val, out)
	}
	return out, nil
}

// expiresAt resolves a ttl argument into an absolute epoch-millis deadline.
func (s *Store) expiresAt(ttl time.Duration) int64 {
	if ttl == DefaultTTL {
		ttl = s.cfg.defaultTTL
	}
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}

// scheduleFlushLocked arms the debounce timer if it is not already armed.
// Arming is idempotent: the flush reads current state when it fires, so
// later mutations in the same window ride along.
func (s *Store) scheduleFlushLocked() {
	if s.timer != nil || s.closed {
		return
	}
	s.timer = time.AfterFunc(s.cfg.debounce, s.flush)
}

// flush runs on the debounce timer goroutine. It has no caller to hand an
// error to, so failures are logged; the next mutation re-arms the timer,
// which is the implicit retry.
func (s *Store) flush() {
	if err := s.Save(); err != nil && !errors.Is(err, ErrClosed) {
		s.cfg.log.WithError(err).WithField("path", s.path).Error("stash: deferred flush failed")
	}
}

func (s *Store) dropIfClosed(op, key string) bool {
	if !s.closed {
		return false
	}
	s.cfg.log.WithField("key", key).Warnf("stash: %s on closed store dropped", op)
	return true
}
