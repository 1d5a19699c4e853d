// Package extioctx carries the process-wide services extio threads through
// constructors explicitly (memory manager, logger, config) instead of
// reaching for package-level globals.
package extioctx

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/robot-dreams/extio/extioconfig"
	"github.com/robot-dreams/extio/extiolog"
	"github.com/robot-dreams/extio/memory"
)

// Context bundles the services most extio constructors need. It is safe
// for concurrent use: the services it carries are themselves safe for
// concurrent use, and Context itself is immutable after New.
type Context struct {
	Memory *memory.Manager
	Log    *extiolog.Logger
	Config *extioconfig.Config

	tempFileCounter *uint64
	tempFilePrefix  string
}

// New builds a Context from a resolved Config, a fresh Manager seeded with
// the config's memory_limit, and the given Logger.
func New(cfg *extioconfig.Config, log *extiolog.Logger) *Context {
	if cfg == nil {
		cfg = extioconfig.Default()
	}
	if log == nil {
		log = extiolog.Default()
	}
	mgr := memory.New()
	mgr.SetLimit(cfg.MemoryLimit)
	mgr.SetWarnHandler(func(used, limit int64) {
		log.Warnf("memory manager exceeded limit: %d used of %d", used, limit)
	})

	var counter uint64
	return &Context{
		Memory:          mgr,
		Log:             log,
		Config:          cfg,
		tempFileCounter: &counter,
		// Folding a per-process random prefix into temp file names means
		// two processes sharing TempDir (e.g. two test binaries racing on
		// /tmp) never collide even though the counter restarts at zero in
		// each process.
		tempFilePrefix: uuid.New().String(),
	}
}

// Default returns a Context built from extioconfig.Default() and a
// stderr-backed Logger; convenient for tests and simple callers that don't
// need bespoke configuration.
func Default() *Context {
	return New(extioconfig.Default(), extiolog.Default())
}

// Silent returns a Context like Default but with a no-op Logger and
// progress disabled, for tests that don't want log noise.
func Silent() *Context {
	cfg := extioconfig.Default()
	cfg.ProgressEnabled = false
	return New(cfg, extiolog.Null())
}

// NextTempFileID returns an id unique within this Context,
// suitable for naming a temporary run file; ids are drawn from a counter so
// consecutive runs sort and log predictably, and the Context-level prefix
// keeps them collision-free across processes.
func (c *Context) NextTempFileID() string {
	n := atomic.AddUint64(c.tempFileCounter, 1)
	return c.tempFilePrefix + "-" + strconv.FormatUint(n, 10)
}
