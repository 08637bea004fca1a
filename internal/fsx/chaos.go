package fsx

import (
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	OpenFailRate    float64 // Fail Open/Create/OpenFile
	ReadFailRate    float64 // Fail ReadFile/HashFile and file reads
	PartialReadRate float64 // Return truncated data on reads
	WriteFailRate   float64 // Fail WriteFileAtomic and file writes
	RemoveFailRate  float64 // Fail Remove/RemoveAll
	RenameFailRate  float64 // Fail Rename
	StatFailRate    float64 // Fail Stat/Exists
	ReadDirFailRate float64 // Fail ReadDir
	AttrFailRate    float64 // Fail Chmod/Chtimes
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		OpenFailRate:    0.02,
		ReadFailRate:    0.02,
		PartialReadRate: 0.02,
		WriteFailRate:   0.02,
		RemoveFailRate:  0.02,
		RenameFailRate:  0.02,
		StatFailRate:    0.01,
		ReadDirFailRate: 0.02,
		AttrFailRate:    0.02,
	}
}

// PathState tracks the fault state of a path for consistent error injection.
type PathState int

const (
	// PathNormal means no persistent fault - errors are transient.
	// This is the zero value, so untracked paths are normal.
	PathNormal PathState = iota
	// PathIOError is sticky - the path has a "bad sector" and always returns EIO.
	PathIOError
	// PathReadOnly is sticky for writes - filesystem is read-only, returns EROFS.
	PathReadOnly
	// PathNoPermission is semi-sticky - operations return EACCES 80% of the time.
	PathNoPermission
)

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	// It ignores fault rates and also ignores any sticky path state.
	// Sticky state is not cleared; it is simply not consulted while in this mode.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection and sticky path state.
	ChaosModeInject

	// ChaosModeStickyOnly applies only sticky path state. Fault rates are disabled.
	// Combine with [Chaos.SetPathState] for deterministic single-path faults.
	ChaosModeStickyOnly
)

// Chaos wraps an [FS] and injects random failures for testing.
//
// Errors are state-aware: once a path gets EIO (bad sector), it stays broken.
// Errors are also reality-aware: ENOENT is only returned if the file really
// doesn't exist on the underlying filesystem.
//
// All injected errors are real OS errors (syscall.Errno wrapped in os.PathError)
// so they behave identically to real filesystem errors. Code using errors.Is()
// will work correctly.
//
// Use [Chaos.SetMode] to control behavior.
// Use [Chaos.Stats] to inspect how many faults were injected.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	// Path state tracking for consistent errors
	mu         sync.RWMutex
	pathStates map[string]PathState

	// Counters for testing verification
	openFails    atomic.Int64
	readFails    atomic.Int64
	writeFails   atomic.Int64
	removeFails  atomic.Int64
	renameFails  atomic.Int64
	statFails    atomic.Int64
	readDirFails atomic.Int64
	attrFails    atomic.Int64
	partialReads atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:         fs,
		rng:        rand.New(rand.NewSource(seed)),
		config:     config,
		pathStates: make(map[string]PathState),
	}
}

// SetMode updates Chaos behavior.
//
// SetMode is safe to call concurrently with filesystem operations.
//
// Switching modes never clears sticky path state. In particular, moving to
// [ChaosModePassthrough] only stops consulting sticky state; switching back to
// [ChaosModeInject] or [ChaosModeStickyOnly] will make any existing sticky
// state take effect again.
//
// The zero value (and default for a new [Chaos]) is [ChaosModePassthrough].
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails    int64
	ReadFails    int64
	WriteFails   int64
	RemoveFails  int64
	RenameFails  int64
	StatFails    int64
	ReadDirFails int64
	AttrFails    int64
	PartialReads int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:    c.openFails.Load(),
		ReadFails:    c.readFails.Load(),
		WriteFails:   c.writeFails.Load(),
		RemoveFails:  c.removeFails.Load(),
		RenameFails:  c.renameFails.Load(),
		StatFails:    c.statFails.Load(),
		ReadDirFails: c.readDirFails.Load(),
		AttrFails:    c.attrFails.Load(),
		PartialReads: c.partialReads.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.ReadFails + s.WriteFails + s.RemoveFails +
		s.RenameFails + s.StatFails + s.ReadDirFails + s.AttrFails +
		s.PartialReads
}

// PathState returns the current fault state for a path (for testing).
func (c *Chaos) PathState(path string) PathState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pathStates[path]
}

// SetPathState forces a sticky fault state for a path.
// Tests use this with [ChaosModeStickyOnly] to simulate, for example, a
// read-only metadata file or a bad sector on one cache entry without any
// randomness.
func (c *Chaos) SetPathState(path string, state PathState) {
	c.setState(path, state)
}

// ResetPathState clears the fault state for a path (for testing).
func (c *Chaos) ResetPathState(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pathStates, path)
}

// ResetAllPathStates clears all fault states (for testing).
func (c *Chaos) ResetAllPathStates() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pathStates = make(map[string]PathState)
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(mode ChaosMode, rate float64) bool {
	if mode != ChaosModeInject {
		return false
	}

	return c.randFloat() < rate
}

// randFloat returns a random float64 in [0.0, 1.0) (thread-safe).
func (c *Chaos) randFloat() float64 {
	c.mu.Lock()
	result := c.rng.Float64()
	c.mu.Unlock()

	return result
}

// randIntn returns a random int in [0, n) (thread-safe).
func (c *Chaos) randIntn(n int) int {
	c.mu.Lock()
	result := c.rng.Intn(n)
	c.mu.Unlock()

	return result
}

// getState returns the current fault state for a path.
func (c *Chaos) getState(path string) PathState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pathStates[path]
}

// setState updates the fault state for a path.
func (c *Chaos) setState(path string, state PathState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state == PathNormal {
		delete(c.pathStates, path)
	} else {
		c.pathStates[path] = state
	}
}

// errToState converts an error to a path state for tracking.
func errToState(err syscall.Errno) PathState {
	switch err {
	case syscall.EIO:
		return PathIOError // Sticky - bad sector
	case syscall.EROFS:
		return PathReadOnly // Sticky for writes
	case syscall.EACCES, syscall.EPERM:
		return PathNoPermission // Semi-sticky
	default:
		return PathNormal // Transient
	}
}

// isWriteOp returns true if the operation modifies the filesystem.
func isWriteOp(op string) bool {
	switch op {
	case "write", "create", "remove", "rename", "mkdir", "chmod", "chtimes":
		return true
	}

	return false
}

// pathError creates an *os.PathError with the given operation, path, and errno.
// This matches what the real OS returns, so errors.Is() works correctly.
func pathError(op, path string, errno syscall.Errno) error {
	pe := &fs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// pickError selects an appropriate error based on operation, path state, and
// real existence. This ensures errors are logically consistent with the actual
// filesystem state. If the existence check itself fails, the real error is
// surfaced rather than fabricating an injected one based on a guess.
func (c *Chaos) pickError(op string, path string) (syscall.Errno, error) {
	var realExists bool

	switch op {
	case "open", "remove", "rename", "stat", "readdir", "chmod", "chtimes":
		exists, err := c.fs.Exists(path)
		if err != nil {
			return 0, err
		}

		realExists = exists
	}

	var valid []syscall.Errno

	switch op {
	case "open":
		if realExists {
			// File exists - can't return ENOENT
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EACCES, syscall.EIO, syscall.EMFILE}
		}

	case "read":
		// Reading from an open file - can't get ENOENT (already opened)
		valid = []syscall.Errno{syscall.EIO, syscall.EINTR}

	case "write", "create":
		// Writes can fail for many reasons regardless of existence
		valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}

	case "remove":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EBUSY, syscall.EPERM}
		} else {
			// Can only return ENOENT if file really doesn't exist
			valid = []syscall.Errno{syscall.ENOENT}
		}

	case "rename":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EXDEV, syscall.EROFS}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EIO}
		}

	case "stat", "readdir":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EIO}
		} else {
			valid = []syscall.Errno{syscall.ENOENT, syscall.EACCES, syscall.EIO}
		}

	case "chmod", "chtimes":
		if realExists {
			valid = []syscall.Errno{syscall.EACCES, syscall.EPERM, syscall.EIO, syscall.EROFS}
		} else {
			valid = []syscall.Errno{syscall.ENOENT}
		}

	default:
		valid = []syscall.Errno{syscall.EIO}
	}

	err := valid[c.randIntn(len(valid))]
	c.setState(path, errToState(err))

	return err, nil
}

// intercept applies sticky path state and fault-rate injection for one
// operation. A nil return means the call should proceed to the wrapped FS.
func (c *Chaos) intercept(op, path string, rate float64, counter *atomic.Int64) error {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModePassthrough {
		return nil
	}

	state := c.getState(path)

	// Semi-sticky permissions: mostly denied, occasionally "recovered".
	if state == PathNoPermission {
		if c.randFloat() < 0.8 {
			counter.Add(1)

			return pathError(op, path, syscall.EACCES)
		}

		c.setState(path, PathNormal)
		state = PathNormal
	}

	if state == PathIOError {
		counter.Add(1)

		return pathError(op, path, syscall.EIO)
	}

	if state == PathReadOnly && isWriteOp(op) {
		counter.Add(1)

		return pathError(op, path, syscall.EROFS)
	}

	if !c.should(mode, rate) {
		return nil
	}

	errno, err := c.pickError(op, path)
	if err != nil {
		return err
	}

	counter.Add(1)

	return pathError(op, path, errno)
}

// --- File Operations ---

func (c *Chaos) Open(path string) (File, error) {
	if err := c.intercept("open", path, c.config.OpenFailRate, &c.openFails); err != nil {
		return nil, err
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) Create(path string) (File, error) {
	if err := c.intercept("create", path, c.config.OpenFailRate, &c.openFails); err != nil {
		return nil, err
	}

	f, err := c.fs.Create(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	op := "open"
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		op = "create"
	}

	if err := c.intercept(op, path, c.config.OpenFailRate, &c.openFails); err != nil {
		return nil, err
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

// --- Convenience Methods ---

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.intercept("read", path, c.config.ReadFailRate, &c.readFails); err != nil {
		return nil, err
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Partial read - return truncated data
	mode := ChaosMode(c.mode.Load())
	if c.should(mode, c.config.PartialReadRate) && len(data) > 1 {
		c.partialReads.Add(1)
		cutoff := c.randIntn(len(data)-1) + 1

		return data[:cutoff], nil
	}

	return data, nil
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := c.intercept("write", path, c.config.WriteFailRate, &c.writeFails); err != nil {
		return err
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) HashFile(path string) (string, error) {
	if err := c.intercept("read", path, c.config.ReadFailRate, &c.readFails); err != nil {
		return "", err
	}

	return c.fs.HashFile(path)
}

// --- Directory Operations ---

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if err := c.intercept("readdir", path, c.config.ReadDirFailRate, &c.readDirFails); err != nil {
		return nil, err
	}

	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	// Sticky state only; MkdirAll has no dedicated fault rate.
	if err := c.intercept("mkdir", path, 0, &c.writeFails); err != nil {
		return err
	}

	return c.fs.MkdirAll(path, perm)
}

// --- Metadata ---

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.intercept("stat", path, c.config.StatFailRate, &c.statFails); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.intercept("stat", path, c.config.StatFailRate, &c.statFails); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Chmod(path string, mode os.FileMode) error {
	if err := c.intercept("chmod", path, c.config.AttrFailRate, &c.attrFails); err != nil {
		return err
	}

	return c.fs.Chmod(path, mode)
}

func (c *Chaos) Chtimes(path string, atime, mtime time.Time) error {
	if err := c.intercept("chtimes", path, c.config.AttrFailRate, &c.attrFails); err != nil {
		return err
	}

	return c.fs.Chtimes(path, atime, mtime)
}

// --- Mutations ---

func (c *Chaos) Remove(path string) error {
	if err := c.intercept("remove", path, c.config.RemoveFailRate, &c.removeFails); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	// Match os.RemoveAll semantics and our FS contract: no error if the path
	// doesn't exist.
	exists, err := c.fs.Exists(path)
	if err != nil {
		return err
	}

	if !exists {
		return nil
	}

	if err := c.intercept("remove", path, c.config.RemoveFailRate, &c.removeFails); err != nil {
		return err
	}

	return c.fs.RemoveAll(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if err := c.intercept("rename", oldpath, c.config.RenameFailRate, &c.renameFails); err != nil {
		return err
	}

	// The destination's sticky state applies too: renaming onto a bad sector
	// or read-only target fails the same way. Rate 0 keeps this sticky-only.
	if err := c.intercept("rename", newpath, 0, &c.renameFails); err != nil {
		return err
	}

	return c.fs.Rename(oldpath, newpath)
}

// --- chaosFile wraps a File and injects faults on Read/Write ---

type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModePassthrough {
		return cf.f.Read(p)
	}

	if cf.chaos.getState(cf.path) == PathIOError {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	if cf.chaos.should(mode, cf.chaos.config.ReadFailRate) {
		errno, err := cf.chaos.pickError("read", cf.path)
		if err != nil {
			return 0, err
		}

		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, errno)
	}

	// Partial read: return a short read WITHOUT skipping bytes.
	// This must limit the underlying read, not just shrink the returned count,
	// otherwise the file offset advances too far and callers silently lose data.
	if cf.chaos.should(mode, cf.chaos.config.PartialReadRate) && len(p) > 1 {
		cf.chaos.partialReads.Add(1)

		cutoff := cf.chaos.randIntn(len(p)-1) + 1 // [1, len(p)-1]

		return cf.f.Read(p[:cutoff])
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	mode := ChaosMode(cf.chaos.mode.Load())
	if mode == ChaosModePassthrough {
		return cf.f.Write(p)
	}

	state := cf.chaos.getState(cf.path)

	if state == PathIOError {
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, syscall.EIO)
	}

	if state == PathReadOnly {
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, syscall.EROFS)
	}

	if cf.chaos.should(mode, cf.chaos.config.WriteFailRate) {
		errno, err := cf.chaos.pickError("write", cf.path)
		if err != nil {
			return 0, err
		}

		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, errno)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error {
	return cf.f.Close()
}
func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}
func (cf *chaosFile) Stat() (os.FileInfo, error) {
	return cf.f.Stat()
}
func (cf *chaosFile) Sync() error {
	return cf.f.Sync()
}

// Compile-time interface checks.
var _ FS = (*Chaos)(nil)
var _ File = (*chaosFile)(nil)
