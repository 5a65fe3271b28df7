// Package engine drives the single-threaded synchronization cycle: gather
// watcher events, diff the affected subpaths, merge, pause the watchers,
// execute the resulting ops, mirror them into the trees, and prune/clean
// before resuming.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gpgsync-dev/gpgsync/internal/gpgsync"
	"github.com/gpgsync-dev/gpgsync/pkg/crypto"
	"github.com/gpgsync-dev/gpgsync/pkg/logging"
	"github.com/gpgsync-dev/gpgsync/pkg/synchronization/aggregator"
	"github.com/gpgsync-dev/gpgsync/pkg/synchronization/core"
	"github.com/gpgsync-dev/gpgsync/pkg/synchronization/executor"
	"github.com/gpgsync-dev/gpgsync/pkg/watching"
)

// DefaultQuietTimeout is how long the engine waits for watcher silence
// before processing a batch of accumulated changes.
const DefaultQuietTimeout = time.Second

// DefaultHardTimeout bounds how long a continuous stream of events can
// delay processing, guaranteeing forward progress under constant churn.
const DefaultHardTimeout = 20 * time.Second

// Config describes one synchronization relationship between a plaintext
// root and an encrypted root.
type Config struct {
	PlainRoot    string
	EncRoot      string
	Passphrase   []byte
	QuietTimeout time.Duration
	HardTimeout  time.Duration
	Logger       *logging.Logger
}

// Engine owns the two in-memory trees, the two watchers, and the two path
// aggregators for one synchronization relationship.
type Engine struct {
	cfg Config

	plainTree *core.Tree
	encTree   *core.Tree

	plainWatcher *watching.Watcher
	encWatcher   *watching.Watcher

	plainAgg *aggregator.PathAggregator
	encAgg   *aggregator.PathAggregator

	logger *logging.Logger
}

// isAncestorOrSame reports whether b is a, or lies beneath a, on disk.
func isAncestorOrSame(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absA, absB)
	if err != nil {
		return false, err
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}

// New validates the two roots, performs the initial full synchronization,
// and starts the watchers. Configuration errors (missing or overlapping
// roots) are returned here; the engine never partially starts.
func New(cfg Config) (*Engine, error) {
	if cfg.QuietTimeout == 0 {
		cfg.QuietTimeout = DefaultQuietTimeout
	}
	if cfg.HardTimeout == 0 {
		cfg.HardTimeout = DefaultHardTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.RootLogger.Sublogger("engine")
	}
	cfg.Logger = logger

	for _, root := range []string{cfg.PlainRoot, cfg.EncRoot} {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("root %s: %w", root, err)
		} else if !info.IsDir() {
			return nil, fmt.Errorf("root %s is not a directory", root)
		}
	}

	plainUnderEnc, err := isAncestorOrSame(cfg.EncRoot, cfg.PlainRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving roots: %w", err)
	}
	encUnderPlain, err := isAncestorOrSame(cfg.PlainRoot, cfg.EncRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving roots: %w", err)
	}
	if plainUnderEnc || encUnderPlain {
		return nil, fmt.Errorf("plain root and encrypted root must not be the same path or ancestors of each other")
	}

	e := &Engine{
		cfg:       cfg,
		plainTree: core.NewTree(time.Now()),
		encTree:   core.NewTree(time.Now()),
		plainAgg:  aggregator.New(),
		encAgg:    aggregator.New(),
		logger:    logger,
	}

	logger.Println("performing initial synchronization")
	if err := core.DiffFilesystem(e.plainTree, cfg.PlainRoot, false, e.hashPlain); err != nil {
		return nil, fmt.Errorf("initial plain diff: %w", err)
	}
	if err := core.DiffFilesystem(e.encTree, cfg.EncRoot, true, e.hashEnc); err != nil {
		return nil, fmt.Errorf("initial encrypted diff: %w", err)
	}

	e.plainWatcher, err = watching.New(cfg.PlainRoot, logger.Sublogger("watch-plain"))
	if err != nil {
		return nil, fmt.Errorf("starting plain watcher: %w", err)
	}
	e.encWatcher, err = watching.New(cfg.EncRoot, logger.Sublogger("watch-enc"))
	if err != nil {
		e.plainWatcher.Close()
		return nil, fmt.Errorf("starting encrypted watcher: %w", err)
	}

	if err := e.runInitialCycle(); err != nil {
		e.Close()
		return nil, fmt.Errorf("initial sync cycle: %w", err)
	}

	return e, nil
}

// runInitialCycle performs the startup pass: both trees have just been
// fully diffed against their filesystems, so this merges, executes, and
// mirrors the result directly, with no gather phase (there are no watcher
// events yet to debounce) and no race checks (nothing has had a chance to
// race the diff that just happened synchronously above in New).
func (e *Engine) runInitialCycle() error {
	ops := core.Merge(e.plainTree, e.encTree)
	if len(ops) == 0 {
		e.finishCycle()
		return nil
	}

	e.logger.Println("applying", len(ops), "initial op(s)")

	if err := executor.Execute(ops, e.plainTree, e.encTree, e.cfg.PlainRoot, e.cfg.EncRoot, e.cfg.Passphrase); err != nil {
		return fmt.Errorf("executing initial cycle: %w", err)
	}

	core.ApplyOps(ops, e.plainTree, e.encTree)
	e.finishCycle()
	return nil
}

func (e *Engine) hashPlain(fsPath string) ([]byte, error) {
	return crypto.HashFile(fsPath)
}

func (e *Engine) hashEnc(fsPath string) ([]byte, error) {
	return crypto.HashEncryptedFile(fsPath, e.cfg.Passphrase)
}

// Close stops both watchers. It does not touch the trees or the
// filesystem.
func (e *Engine) Close() error {
	var firstErr error
	if e.plainWatcher != nil {
		if err := e.plainWatcher.Close(); err != nil {
			firstErr = err
		}
	}
	if e.encWatcher != nil {
		if err := e.encWatcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run blocks, driving synchronization cycles until ctx is cancelled or a
// fatal error occurs (a watcher channel disconnecting, or an I/O, crypto,
// or programmer-invariant error during a cycle).
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runCycle performs one full engine cycle (gather, diff, merge, pause,
// execute, mirror, prune/clean, resume), retrying from the gather phase
// internally whenever a race is detected between diff/merge and newly
// arrived watcher events.
func (e *Engine) runCycle(ctx context.Context) error {
	for {
		if err := e.gather(ctx); err != nil {
			return err
		}

		plainPaths := e.plainAgg.Paths()
		encPaths := e.encAgg.Paths()
		if len(plainPaths) == 0 && len(encPaths) == 0 {
			continue
		}

		run := uuid.NewString()[:8]
		cycleLogger := e.logger.Sublogger(run)
		cycleLogger.Debugf("diffing %d plain path(s), %d encrypted path(s)", len(plainPaths), len(encPaths))

		for _, path := range plainPaths {
			if err := core.DiffPath(e.plainTree, e.cfg.PlainRoot, path, false, e.hashPlain); err != nil {
				return fmt.Errorf("diffing plain path %s: %w", path, err)
			}
		}
		for _, path := range encPaths {
			if err := core.DiffPath(e.encTree, e.cfg.EncRoot, path, true, e.hashEnc); err != nil {
				return fmt.Errorf("diffing encrypted path %s: %w", path, err)
			}
		}

		if e.drainPendingEvents() {
			cycleLogger.Debugln("new events arrived during diff, restarting cycle")
			continue
		}

		ops := core.Merge(e.plainTree, e.encTree)

		if e.drainPendingEvents() {
			cycleLogger.Debugln("new events arrived during merge, restarting cycle")
			continue
		}

		if len(ops) == 0 {
			e.finishCycle()
			return nil
		}

		cycleLogger.Println("applying", len(ops), "op(s)")

		e.plainWatcher.Pause()
		e.encWatcher.Pause()

		err := executor.Execute(ops, e.plainTree, e.encTree, e.cfg.PlainRoot, e.cfg.EncRoot, e.cfg.Passphrase)
		if err != nil {
			e.plainWatcher.Resume()
			e.encWatcher.Resume()
			return fmt.Errorf("executing cycle: %w", err)
		}

		core.ApplyOps(ops, e.plainTree, e.encTree)
		e.finishCycle()

		e.plainWatcher.Drain()
		e.encWatcher.Drain()
		e.plainWatcher.Resume()
		e.encWatcher.Resume()

		return nil
	}
}

func (e *Engine) finishCycle() {
	e.plainTree.PruneDeleted()
	e.plainTree.Clean()
	e.encTree.PruneDeleted()
	e.encTree.Clean()
	e.plainAgg.Reset()
	e.encAgg.Reset()
}

// drainPendingEvents non-blockingly checks both watcher event channels,
// feeding anything already queued into the aggregators and reporting
// whether it found anything. It never blocks, so a clean return means the
// watchers were quiet at the instant of the check.
func (e *Engine) drainPendingEvents() bool {
	found := false
	for {
		select {
		case path, ok := <-e.plainWatcher.Events:
			if !ok {
				return found
			}
			e.insert(e.plainAgg, path, false)
			found = true
		case path, ok := <-e.encWatcher.Events:
			if !ok {
				return found
			}
			e.insert(e.encAgg, path, true)
			found = true
		default:
			return found
		}
	}
}

func (e *Engine) insert(agg *aggregator.PathAggregator, path string, isEnc bool) {
	if path == "." {
		path = ""
	}
	if strings.HasPrefix(path, "..") {
		e.logger.Warn(fmt.Errorf("watch event path %q lies outside its root, dropping", path))
		return
	}
	if isEnc && path != "" {
		normalized, ok := e.normalizeEncEventPath(path)
		if !ok {
			return
		}
		path = normalized
	}
	agg.Insert(path)
}

// normalizeEncEventPath maps a raw on-disk encrypted-root path, as reported
// by the watcher, to its tree key: files carry the .gpg suffix on disk but
// are keyed without it. A raw path without the suffix names either a
// directory (keyed as-is), a stray non-.gpg file (which the differ ignores
// entirely, so there is nothing to rescan), or something already gone (kept,
// so a deleted directory's disappearance still gets diffed).
func (e *Engine) normalizeEncEventPath(path string) (string, bool) {
	if core.HasGPGSuffix(path) {
		return core.RemoveGPGSuffix(path), true
	}
	if info, err := os.Stat(filepath.Join(e.cfg.EncRoot, filepath.FromSlash(path))); err == nil && !info.IsDir() {
		e.logger.Debugln("ignoring non-.gpg file in encrypted root:", path)
		return "", false
	}
	return path, true
}

// gather blocks until at least one watcher event has arrived and then
// either QuietTimeout has elapsed with no further events, or HardTimeout has
// elapsed since the first event of this gather, whichever comes first. It
// is the engine's sole suspension point, so it is also where cancellation
// of ctx is observed.
func (e *Engine) gather(ctx context.Context) error {
	hardCap := time.NewTimer(e.cfg.HardTimeout)
	defer gpgsync.StopAndDrainTimer(hardCap)
	hardCapArmed := false

	var quietTimer *time.Timer
	var quiet <-chan time.Time
	defer func() {
		if quietTimer != nil {
			gpgsync.StopAndDrainTimer(quietTimer)
		}
	}()

	armQuiet := func() {
		if quietTimer == nil {
			quietTimer = time.NewTimer(e.cfg.QuietTimeout)
			quiet = quietTimer.C
			// The hard cap counts from this first event, not from when
			// gather started waiting.
			gpgsync.StopAndDrainTimer(hardCap)
			hardCap.Reset(e.cfg.HardTimeout)
			hardCapArmed = true
			return
		}
		if !quietTimer.Stop() {
			<-quietTimer.C
		}
		quietTimer.Reset(e.cfg.QuietTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-e.plainWatcher.Events:
			if !ok {
				return fmt.Errorf("plain watcher channel disconnected")
			}
			e.insert(e.plainAgg, path, false)
			armQuiet()
		case path, ok := <-e.encWatcher.Events:
			if !ok {
				return fmt.Errorf("encrypted watcher channel disconnected")
			}
			e.insert(e.encAgg, path, true)
			armQuiet()
		case err := <-e.plainWatcher.Errors:
			e.logger.Warn(err)
		case err := <-e.encWatcher.Errors:
			e.logger.Warn(err)
		case <-quiet:
			return nil
		case <-hardCap.C:
			if hardCapArmed {
				return nil
			}
			hardCap.Reset(e.cfg.HardTimeout)
		}
	}
}
