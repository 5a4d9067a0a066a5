// Package stash is a process-local, file-persisted key-value store with
// per-entry TTL expiration and debounced disk writes. It is an embeddable
// cache for small applications that want cache contents to survive process
// restarts without carrying a database.
//
// # Model
//
// A [Store] maps string keys to either a single entry (scalar slot) or an
// ordered sequence of entries (list slot). Every entry carries its own
// optional expiration, fixed at write time as now + ttl. The two shapes are
// disjoint at read time: [Store.Get] on a list key reports absent, and
// [Store.List] on a scalar key returns an empty sequence.
//
// Expiration is lazy. Reads filter stale entries out of their own results
// but never mutate the store; [Store.Save] is the only path that physically
// removes stale data, sweeping the map before each snapshot write.
//
// # Persistence
//
// Mutations do not write to disk synchronously. Each one arms (idempotently)
// a one-shot debounce timer, so a burst of N mutations collapses into a
// single snapshot write when the timer fires. Calling [Store.Save] directly
// disarms the timer and writes immediately. [Store.Close] performs a final
// flush when a write-back is still pending, so no mutation is lost at
// shutdown; hold it in a defer next to where the store was opened:
//
//	s, err := stash.New("app-cache.json")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// The snapshot is one JSON document: an object mapping each key to an entry
// {"value": ..., "expires": <epoch-millis>} or to an array of such entries.
// A missing "expires" means the entry never expires. Snapshots are replaced
// whole, via a temp file and rename, so a failed write never truncates the
// previous snapshot. [WithCodec] swaps the format for msgpack when snapshot
// size matters more than readability.
//
// # Values
//
// Values are opaque serializable data. Anything the codec round-trips works:
// primitives, string-keyed maps, slices, structs with exported fields. After
// a restart, values come back in the codec's generic shapes (map[string]any,
// float64 for JSON numbers); the typed accessors [As] and [ListAs] recover
// concrete types transparently in both cases:
//
//	found, user, err := stash.As[User](s, "user:123")
//
// # Lists
//
// [Store.Push] appends to a key's list, coercing whatever was there into a
// fresh single-element list. [Store.Pull] removes every element whose value
// matches a predicate, preserving the order of survivors; [Store.PullValue]
// is the deep-equality form.
//
//	s.Push("jobs", job1, stash.DefaultTTL)
//	s.Push("jobs", job2, stash.DefaultTTL)
//	s.Pull("jobs", func(v any) bool { return v.(Job).Done })
//
// # Concurrency
//
// All methods are safe for concurrent use from multiple goroutines. A single
// Store owns its snapshot file; two stores pointed at the same path race and
// the last save wins. There is no cross-process locking.
package stash
