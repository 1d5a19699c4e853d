// Package memory implements the process-wide accounted byte budget used by
// extio's block buffers and sorter buffers (the merge heap is not
// accounted). It is not an allocator: Manager only accounts bytes the caller is
// about to (or just did) allocate through the platform allocator; it never
// allocates memory itself.
package memory

import (
	"sync"

	"github.com/dropbox/godropbox/errors"

	"github.com/robot-dreams/extio/xerrors"
)

// Policy governs what happens when Account would exceed the limit.
type Policy int

const (
	// PolicyThrow returns xerrors.ErrResourceExhausted and leaves Used()
	// unchanged.
	PolicyThrow Policy = iota
	// PolicyWarnOnce logs a warning the first time the limit is exceeded,
	// then silently allows further over-budget accounting.
	PolicyWarnOnce
	// PolicyIgnore never rejects an allocation; Used() may exceed the
	// configured limit.
	PolicyIgnore
)

// Manager is a mutex-guarded counter of accounted bytes with a configurable
// limit. It is the one piece of extio's state that is legitimately
// process-wide shared state (per the concurrency model): many unrelated
// streams, sorts, and pipelines may account against the same Manager.
type Manager struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	policy   Policy
	warned   bool
	onWarn   func(used, limit int64)
}

// New returns a Manager with no limit (unlimited) and PolicyThrow, which is
// inert until SetLimit is called with a positive value.
func New() *Manager {
	return &Manager{limit: 0, policy: PolicyThrow}
}

// SetLimit sets the accounting limit in bytes. A limit of 0 means
// unlimited.
func (m *Manager) SetLimit(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = bytes
	m.warned = false
}

// SetPolicy sets the exhaustion policy.
func (m *Manager) SetPolicy(p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// SetWarnHandler overrides how PolicyWarnOnce reports its one warning;
// defaults to a no-op so packages that don't care about logging don't need
// to wire anything.
func (m *Manager) SetWarnHandler(f func(used, limit int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarn = f
}

// Used returns the number of bytes currently accounted.
func (m *Manager) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Available returns limit-used, or a very large number if unlimited.
func (m *Manager) Available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit == 0 {
		return 1<<62 - m.used
	}
	return m.limit - m.used
}

// Account records bytes as in use. Under PolicyThrow, an accounting that
// would exceed the limit is rejected wholesale -- the failed call never
// partially applies.
func (m *Manager) Account(bytes int64) error {
	if bytes < 0 {
		return errors.Newf("memory: cannot account a negative byte count %d", bytes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && m.used+bytes > m.limit {
		switch m.policy {
		case PolicyThrow:
			return xerrors.Wrap(xerrors.ErrResourceExhausted,
				"memory: accounting %d bytes would exceed limit %d (currently %d used)",
				bytes, m.limit, m.used)
		case PolicyWarnOnce:
			if !m.warned {
				m.warned = true
				if m.onWarn != nil {
					m.onWarn(m.used+bytes, m.limit)
				}
			}
		case PolicyIgnore:
			// fall through
		}
	}
	m.used += bytes
	return nil
}

// Release returns bytes to the budget. Releasing more than is currently
// accounted clamps used() at zero rather than going negative.
func (m *Manager) Release(bytes int64) {
	if bytes < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= bytes
	if m.used < 0 {
		m.used = 0
	}
}
