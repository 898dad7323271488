package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Opener hands out one shared Store per database path.
//
// Concurrent Open calls for the same path are coalesced: exactly one of
// them opens and migrates the database, the rest wait and receive the same
// handle. Later calls reuse the handle until it is closed. Create one Opener
// per process and pass it (or the Store) to whoever needs it.
type Opener struct {
	opts  []Option
	group singleflight.Group

	mu    sync.Mutex
	open  map[string]*Store
	opens int
}

// NewOpener creates an Opener that applies opts to every store it opens.
func NewOpener(opts ...Option) *Opener {
	return &Opener{
		opts: opts,
		open: make(map[string]*Store),
	}
}

// Open returns the shared store for path, opening it if needed.
func (o *Opener) Open(path string) (*Store, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}

	if s := o.lookup(key); s != nil {
		return s, nil
	}

	v, err, _ := o.group.Do(key, func() (any, error) {
		if s := o.lookup(key); s != nil {
			return s, nil
		}

		s, err := Open(key, o.opts...)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.onClose = func() { o.forget(key, s) }
		s.mu.Unlock()

		o.mu.Lock()
		o.open[key] = s
		o.opens++
		o.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Opens reports how many times the Opener actually opened a database.
func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *Opener) lookup(key string) *Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open[key]
}

func (o *Opener) forget(key string, s *Store) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open[key] == s {
		delete(o.open, key)
	}
}
