// Package cache provides a time-boxed key/value store for conversation lists
// and message windows.
//
// Entries are JSON envelopes {data, writtenAt, ttl} written to a Backend
// (files, SQLite or Redis), scoped by a namespace derived from the gateway
// URL and profile. Every failure is treated as a miss so callers fall back to
// the network. Disable with CHATSYNC_NO_CACHE=1.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultMaxItems = 500
)

// ErrNotFound is returned by backends when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Backend stores opaque values under string keys. Writes must replace the
// previous value atomically.
type Backend interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	Close() error
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"writtenAt"`
	TTL       int64           `json:"ttl"` // milliseconds
}

func (e *entry) expiresAt() time.Time {
	return e.WrittenAt.Add(time.Duration(e.TTL) * time.Millisecond)
}

// Options configures a Store.
type Options struct {
	// Namespace prefixes every key; see Scope.
	Namespace string
	// MaxItems bounds the number of entries in the namespace. Zero means
	// DefaultMaxItems, negative disables the bound.
	MaxItems int
	// Now overrides the clock, for tests.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Store is a TTL cache over a Backend. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	prefix   string
	maxItems int
	now      func() time.Time
	log      zerolog.Logger
	used     map[string]time.Time
}

// New creates a Store over backend.
func New(backend Backend, opts Options) *Store {
	maxItems := opts.MaxItems
	if maxItems == 0 {
		maxItems = DefaultMaxItems
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	prefix := ""
	if opts.Namespace != "" {
		prefix = opts.Namespace + ":"
	}
	return &Store{
		backend:  backend,
		prefix:   prefix,
		maxItems: maxItems,
		now:      now,
		log:      opts.Logger.With().Str("component", "cache").Logger(),
		used:     make(map[string]time.Time),
	}
}

// Scope derives a namespace from the gateway URL and profile name, using the
// same short sha1 suffix scheme as the on-disk file names.
func Scope(gatewayURL, profile string) string {
	hash := sha1.Sum([]byte(gatewayURL))
	if profile == "" {
		profile = "default"
	}
	return "chatsync:" + hex.EncodeToString(hash[:6]) + ":" + sanitizeKey(profile)
}

// Get loads the entry for key into dst. It returns false on a miss, on an
// expired entry (which is evicted), and on any decode or backend error.
func (s *Store) Get(key string, dst any) bool {
	if disabled() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.prefix + key
	e, ok := s.liveLocked(full)
	if !ok {
		return false
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache entry does not decode, treating as miss")
		return false
	}
	s.used[full] = s.now()
	return true
}

// Has reports whether key holds a live entry. Expired entries are evicted.
func (s *Store) Has(key string) bool {
	if disabled() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.liveLocked(s.prefix + key)
	return ok
}

// Set writes value under key with the given ttl (DefaultTTL if ttl <= 0).
// Failures are logged and dropped.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if disabled() {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache value does not encode")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.prefix + key
	now := s.now()
	if !s.writeLocked(full, entry{Data: raw, WrittenAt: now, TTL: ttl.Milliseconds()}) {
		return
	}
	s.used[full] = now
	s.evictLocked(full)
}

// Update replaces the data of a live entry, keeping its writtenAt and ttl.
// It returns false (and writes nothing) when key has no live entry.
func (s *Store) Update(key string, value any) bool {
	if disabled() {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("cache value does not encode")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.prefix + key
	e, ok := s.liveLocked(full)
	if !ok {
		return false
	}
	e.Data = raw
	if !s.writeLocked(full, e) {
		return false
	}
	s.used[full] = s.now()
	return true
}

// Invalidate removes key.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(s.prefix + key)
}

// Clear removes every entry in the store's namespace.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.backend.Keys(s.prefix)
	if err != nil {
		s.log.Debug().Err(err).Msg("cache key listing failed")
		return
	}
	for _, k := range keys {
		s.removeLocked(k)
	}
}

// Len returns the number of stored entries in the namespace, live or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.backend.Keys(s.prefix)
	if err != nil {
		return 0
	}
	return len(keys)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) readLocked(full string) (entry, bool) {
	data, err := s.backend.Read(full)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Debug().Err(err).Str("key", full).Msg("cache read failed")
		}
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.log.Debug().Err(err).Str("key", full).Msg("corrupt cache entry, evicting")
		s.removeLocked(full)
		return entry{}, false
	}
	return e, true
}

// liveLocked reads full and evicts it if expired.
func (s *Store) liveLocked(full string) (entry, bool) {
	e, ok := s.readLocked(full)
	if !ok {
		return entry{}, false
	}
	if s.now().After(e.expiresAt()) {
		s.removeLocked(full)
		return entry{}, false
	}
	return e, true
}

func (s *Store) writeLocked(full string, e entry) bool {
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Debug().Err(err).Str("key", full).Msg("cache entry does not encode")
		return false
	}
	if err := s.backend.Write(full, data); err != nil {
		s.log.Debug().Err(err).Str("key", full).Msg("cache write failed")
		return false
	}
	return true
}

func (s *Store) removeLocked(full string) {
	delete(s.used, full)
	if err := s.backend.Delete(full); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Debug().Err(err).Str("key", full).Msg("cache delete failed")
	}
}

// evictLocked brings the namespace back under maxItems: expired and
// undecodable entries go first, then the least recently used. keep is the
// key just written and is never evicted.
func (s *Store) evictLocked(keep string) {
	if s.maxItems < 0 {
		return
	}
	keys, err := s.backend.Keys(s.prefix)
	if err != nil || len(keys) <= s.maxItems {
		return
	}

	now := s.now()
	type candidate struct {
		key  string
		used time.Time
	}
	live := make([]candidate, 0, len(keys))
	for _, k := range keys {
		if k == keep {
			continue
		}
		e, ok := s.readLocked(k)
		if !ok {
			continue
		}
		if now.After(e.expiresAt()) {
			s.removeLocked(k)
			continue
		}
		used, ok := s.used[k]
		if !ok {
			used = e.WrittenAt
		}
		live = append(live, candidate{key: k, used: used})
	}

	excess := len(live) + 1 - s.maxItems
	if excess <= 0 {
		return
	}
	slices.SortFunc(live, func(a, b candidate) int { return a.used.Compare(b.used) })
	for _, c := range live[:min(excess, len(live))] {
		s.log.Debug().Str("key", c.key).Msg("evicting least recently used cache entry")
		s.removeLocked(c.key)
	}
}

func disabled() bool {
	return os.Getenv("CHATSYNC_NO_CACHE") != ""
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "cache"
	}
	key = strings.ReplaceAll(key, "/", "-")
	key = strings.ReplaceAll(key, "\\", "-")
	return key
}
