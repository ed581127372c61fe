package idb

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// liveHandles tracks every open, not yet closed handle in the process. It lets
// Open refuse a second handle to the same store and lets DeleteStore report
// Blocked while a handle is alive.
var liveHandles = xsync.NewMapOf[string, *Store]()

func registryKey(be backend, name string) string {
	return be.ID() + "/" + name
}

func claimHandle(s *Store) bool {
	_, loaded := liveHandles.LoadOrStore(s.regKey, s)
	return !loaded
}

func releaseHandle(s *Store) {
	liveHandles.Compute(s.regKey, func(old *Store, loaded bool) (*Store, bool) {
		return old, !loaded || old == s
	})
}

func isHandleLive(be backend, name string) bool {
	_, ok := liveHandles.Load(registryKey(be, name))
	return ok
}
