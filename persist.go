package stash

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// load seeds the store from the snapshot file, or creates the file when it
// is absent. Called from New before the store is shared, so no locking.
func (s *Store) load() error {
	buf, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		raw := make(map[string]any)
		if err := s.cfg.codec.Unmarshal(buf, &raw); err != nil {
			return errors.Wrapf(errors.Mark(err, ErrCorruptSnapshot), "decode snapshot %s", s.path)
		}
		data, err := decodeSnapshot(raw)
		if err != nil {
			return errors.Wrapf(errors.Mark(err, ErrCorruptSnapshot), "decode snapshot %s", s.path)
		}
		s.data = data
		s.lastHash = xxhash.Sum64(buf)
		s.cfg.log.WithFields(logrus.Fields{"path": s.path, "keys": len(data)}).Debug("stash: snapshot loaded")
		return nil
	case errors.Is(err, fs.ErrNotExist):
		for key, val := range s.cfg.initial {
			s.data[key] = &slot{scalar: &Entry{Value: val, Expires: s.expiresAt(DefaultTTL)}}
		}
		return s.persistLocked()
	default:
		return errors.Wrapf(err, "read snapshot %s", s.path)
	}
}

// saveLocked implements Save with s.mu held: disarm the debounce timer,
// sweep stale entries, rewrite the file.
func (s *Store) saveLocked() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.sweepLocked()
	return s.persistLocked()
}

// sweepLocked drops stale entries from the in-memory map: stale scalars
// remove their key, list slots keep only live elements and remove the key
// when none survive.
func (s *Store) sweepLocked() {
	now := time.Now()
	for key, sl := range s.data {
		if sl.scalar != nil {
			if !sl.scalar.live(now) {
				delete(s.data, key)
			}
			continue
		}
		kept := sl.list[:0]
		for _, e := range sl.list {
			if e.live(now) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.data, key)
		} else {
			sl.list = kept
		}
	}
}

// persistLocked encodes the map and replaces the snapshot file atomically:
// write a uniquely named temp file next to the target, then rename over it.
// A failed write never leaves a truncated snapshot behind. The write is
// skipped when the encoded bytes hash the same as the last snapshot written.
func (s *Store) persistLocked() error {
	buf, err := s.cfg.codec.Marshal(encodeSnapshot(s.data))
	if err != nil {
		return errors.Wrap(errors.Mark(err, ErrSerialization), "encode snapshot")
	}
	sum := xxhash.Sum64(buf)
	if sum == s.lastHash {
		if _, err := os.Stat(s.path); err == nil {
			s.cfg.log.WithField("path", s.path).Debug("stash: snapshot unchanged, write skipped")
			return nil
		}
	}
	dir, base := filepath.Dir(s.path), filepath.Base(s.path)
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, buf, s.cfg.fileMode); err != nil {
		return errors.Wrapf(err, "write snapshot %s", s.path)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replace snapshot %s", s.path)
	}
	s.lastHash = sum
	s.cfg.log.WithFields(logrus.Fields{"path": s.path, "bytes": len(buf)}).Debug("stash: snapshot persisted")
	return nil
}

// encodeSnapshot flattens the slot map into the on-disk document shape:
// scalar slots become entry objects, list slots become arrays of them.
func encodeSnapshot(data map[string]*slot) map[string]any {
	doc := make(map[string]any, len(data))
	for key, sl := range data {
		if sl.scalar != nil {
			doc[key] = *sl.scalar
		} else {
			doc[key] = sl.list
		}
	}
	return doc
}

// decodeSnapshot rebuilds the slot map from a decoded document. The shape of
// each key is sniffed: arrays become list slots, objects become scalars,
// anything else is corrupt.
func decodeSnapshot(raw map[string]any) (map[string]*slot, error) {
	data := make(map[string]*slot, len(raw))
	for key, v := range raw {
		if items, ok := v.([]any); ok {
			list := make([]Entry, 0, len(items))
			for i, item := range items {
				e, err := decodeEntry(item)
				if err != nil {
					return nil, errors.Wrapf(err, "key %q index %d", key, i)
				}
				list = append(list, e)
			}
			data[key] = &slot{list: list}
			continue
		}
		e, err := decodeEntry(v)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", key)
		}
		data[key] = &slot{scalar: &e}
	}
	return data, nil
}

func decodeEntry(v any) (Entry, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Entry{}, errors.Newf("entry is %T, want object", v)
	}
	val, ok := m["value"]
	if !ok {
		return Entry{}, errors.New("entry missing value")
	}
	e := Entry{Value: val}
	if exp, ok := m["expires"]; ok {
		millis, err := toMillis(exp)
		if err != nil {
			return Entry{}, err
		}
		e.Expires = millis
	}
	return e, nil
}

func toMillis(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Newf("expires is %T, want number", v)
	}
}
