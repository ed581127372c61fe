package idb

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRetryInterval is the pause between whole-store deletion attempts
// that found the store still open.
const DefaultRetryInterval = 60 * time.Millisecond

const defaultLockTimeout = 10 * time.Second

type Options struct {
	Engine Engine // EngineBolt when empty
	Dir    string // where bolt and badger stores live

	Logf    func(format string, args ...any)
	Verbose bool

	IsTesting bool
	MmapSize  int

	// LockTimeout bounds waiting for another process to release a bolt file.
	LockTimeout time.Duration

	// RetryInterval and MaxDeleteAttempts control DeleteStore; zero
	// MaxDeleteAttempts retries until the context is done.
	RetryInterval     time.Duration
	MaxDeleteAttempts int

	backend backend
}

func (opt *Options) logf() func(format string, args ...any) {
	if opt.Logf != nil {
		return opt.Logf
	}
	return log.Printf
}

func (opt *Options) lockTimeout() time.Duration {
	if opt.LockTimeout > 0 {
		return opt.LockTimeout
	}
	return defaultLockTimeout
}

func (opt *Options) retryInterval() time.Duration {
	if opt.RetryInterval > 0 {
		return opt.RetryInterval
	}
	return DefaultRetryInterval
}

// Store is a handle to one named, versioned store. It becomes ready
// asynchronously after Open; operations issued earlier wait for readiness.
// A Store is safe for concurrent use.
type Store struct {
	desc    *StoreDescriptor
	opt     Options
	be      backend
	regKey  string
	logf    func(format string, args ...any)
	verbose bool

	ready   chan struct{}
	openErr error
	stg     storage
	state   *storeState
	stateMu sync.Mutex // serializes changes to state after open
	colls   map[string]*collection

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// collection couples the persisted state of a collection with its key
// allocator. The map holding these is fixed once the handle is ready.
type collection struct {
	state *collectionState
	alloc keyAllocator
}

// Open validates desc, then opens or creates the store in the background.
// The returned handle may not be ready yet; see WaitForReady.
func Open(desc *StoreDescriptor, opt Options) (*Store, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	be, err := resolveBackend(&opt)
	if err != nil {
		return nil, err
	}

	s := &Store{
		desc:    desc,
		opt:     opt,
		be:      be,
		regKey:  registryKey(be, desc.Name),
		logf:    opt.logf(),
		verbose: opt.Verbose,
		ready:   make(chan struct{}),
	}
	if !claimHandle(s) {
		return nil, storeErrf(ErrBlocked, desc.Name, "", 0, nil, "store is already open in this process")
	}
	if s.verbose {
		s.logf("idb: OPEN %s v%d (%s)", desc.Name, desc.Version, be.ID())
	}

	go s.open()
	return s, nil
}

func (s *Store) Name() string {
	return s.desc.Name
}

func (s *Store) Version() uint64 {
	return s.desc.Version
}

func (s *Store) Descriptor() *StoreDescriptor {
	return s.desc
}

func (s *Store) open() {
	start := time.Now()
	err := s.openStorage()
	if err != nil {
		s.openErr = asStoreError(s.Name(), err)
		s.logf("idb: opening %s failed: %v", s.Name(), s.openErr)
		if s.stg != nil {
			s.stg.Close()
			s.stg = nil
		}
	} else if s.verbose {
		s.logf("idb: READY %s in %d ms", s.Name(), time.Since(start).Milliseconds())
	}
	observeOpen(s.Name(), start, s.openErr)
	close(s.ready)
}

func (s *Store) openStorage() error {
	stg, err := s.be.Open(s.Name(), &s.opt)
	if err != nil {
		return asStoreError(s.Name(), err)
	}
	s.stg = stg

	err = s.run(true, func(tx *tx) error {
		return s.prepare(tx, time.Now())
	})
	if err != nil {
		return err
	}

	return s.run(false, func(tx *tx) error {
		for _, c := range s.colls {
			k, _ := tx.dataBucket(c.state).Cursor().Last()
			next := Key(1)
			if k != nil {
				next = decodeKey(k) + 1
			}
			saved, err := tx.loadNextKey(c.state)
			if err != nil {
				return err
			}
			c.alloc.reset(max(next, saved))
		}
		return nil
	})
}

// prepare loads the persisted state, running the schema creation branch
// when the store is new or older than the descriptor.
func (s *Store) prepare(tx *tx, now time.Time) error {
	st, err := loadStoreState(tx)
	if err != nil {
		return err
	}
	switch {
	case st != nil && st.Version > s.desc.Version:
		return storeErrf(ErrVersion, s.Name(), "", 0, nil, "requested version %d is lower than existing version %d", s.desc.Version, st.Version)

	case st == nil || st.Version < s.desc.Version:
		if st == nil {
			st = &storeState{Name: s.Name(), CreatedAt: now}
		}
		if st.Collections == nil {
			st.Collections = make(map[string]*collectionState)
		}
		s.logf("idb: upgrading %s from version %d to %d", s.Name(), st.Version, s.desc.Version)
		for i := range s.desc.Collections {
			cs := st.prepareCollection(tx, &s.desc.Collections[i])
			cs.buildPendingIndices(tx)
		}
		st.Version = s.desc.Version
		st.UpgradedAt = now
		st.save(tx)
		tx.markWritten()

	default:
		for i := range s.desc.Collections {
			cd := &s.desc.Collections[i]
			cs := st.Collections[cd.Name]
			if cs == nil {
				return configErrf(s.Name(), cd.Name, nil, "collection is not part of version %d; increase the version to create it", st.Version)
			}
			cs.attach(cd)
			if !cs.matches(cd) {
				return configErrf(s.Name(), cd.Name, nil, "indexes differ from version %d; increase the version to change them", st.Version)
			}
		}
	}

	s.state = st
	s.colls = make(map[string]*collection, len(s.desc.Collections))
	for _, cd := range s.desc.Collections {
		s.colls[cd.Name] = &collection{state: st.Collections[cd.Name]}
	}
	return nil
}

// Ready returns a channel closed once the open sequence finished, whether
// it succeeded or not.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitForReady blocks until the store finished opening and returns the
// handle, or the error that made opening fail. The context only bounds the
// wait; opening continues in the background.
func (s *Store) WaitForReady(ctx context.Context) (*Store, error) {
	select {
	case <-s.ready:
		if s.openErr != nil {
			return nil, s.openErr
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the open error once the store is ready, nil otherwise.
func (s *Store) Err() error {
	select {
	case <-s.ready:
		return s.openErr
	default:
		return nil
	}
}

// beginOp gates every operation: closed handles fail, others wait for
// readiness.
func (s *Store) beginOp(ctx context.Context) error {
	if s.closed.Load() {
		return storeErrf(ErrClosed, s.Name(), "", 0, nil, "")
	}
	if _, err := s.WaitForReady(ctx); err != nil {
		return err
	}
	if s.closed.Load() {
		return storeErrf(ErrClosed, s.Name(), "", 0, nil, "")
	}
	return nil
}

// collection must only be called on a ready handle.
func (s *Store) collection(name string) (*collection, error) {
	c := s.colls[name]
	if c == nil {
		return nil, configErrf(s.Name(), name, nil, "unknown collection")
	}
	return c, nil
}

// checkCollection rejects unknown collection names before readiness.
func (s *Store) checkCollection(name string) error {
	if s.desc.Collection(name) == nil {
		return configErrf(s.Name(), name, nil, "unknown collection")
	}
	return nil
}

// Close waits for the open sequence to finish, closes the underlying storage
// and releases the store name, letting DeleteStore proceed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		<-s.ready
		if s.stg != nil {
			s.closeErr = s.stg.Close()
		}
		releaseHandle(s)
		if s.verbose {
			s.logf("idb: CLOSE %s", s.Name())
		}
	})
	if s.closeErr != nil {
		return storeErrf(ErrRequest, s.Name(), "", 0, s.closeErr, "close")
	}
	return nil
}
