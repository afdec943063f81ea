// Package filelock implements the on-filesystem Lock backend (§4.4) in two
// modes: an advisory flock-based mode for a single host's processes, and a
// rename-based mode for filesystems where advisory locks aren't reliable
// (e.g. some network mounts). Paths are derived from a hash of the key so
// two distinct keys never share a lock file.
package filelock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"metapus/internal/domain/idempotency"
)

const defaultSpinInterval = time.Millisecond
const defaultMaxWait = 10 * time.Second

// Lock is the advisory-flock mode File-system Lock backend: open(path,
// create), attempt a non-blocking exclusive lock, spinning at SpinInterval
// up to MaxWait. The expiry timestamp is written into the file for
// diagnostics. Held file handles are tracked and released on Release or
// process exit.
type Lock struct {
	dir          string
	spinInterval time.Duration
	maxWait      time.Duration

	mu    sync.Mutex
	holds map[string]*hold
}

type hold struct {
	flock *flock.Flock
	token idempotency.LockToken
}

// Option configures a Lock.
type Option func(*Lock)

// WithSpinInterval overrides the default 1ms retry spin.
func WithSpinInterval(d time.Duration) Option {
	return func(l *Lock) { l.spinInterval = d }
}

// WithMaxWait overrides the default 10s acquisition timeout.
func WithMaxWait(d time.Duration) Option {
	return func(l *Lock) { l.maxWait = d }
}

// NewLock builds a Lock rooted at dir, creating it if necessary. Locks for
// distinct keys never collide: each key's path is dir/<sha256(key)>.lock.
func NewLock(dir string, opts ...Option) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	l := &Lock{
		dir:          dir,
		spinInterval: defaultSpinInterval,
		maxWait:      defaultMaxWait,
		holds:        make(map[string]*hold),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

var _ idempotency.Lock = (*Lock)(nil)

func (l *Lock) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])+".lock")
}

func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (idempotency.LockToken, bool, error) {
	path := l.pathFor(key)
	fl := flock.New(path)

	deadline := time.Now().Add(l.maxWait)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return "", false, idempotency.NewBackendError("filelock.trylock", err)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(l.spinInterval):
		}
	}

	now := time.Now()
	token := idempotency.NewLockToken(now)
	expiry := now.Add(ttl)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(expiry.Unix(), 10)+"\n"+string(token)), 0o644); err != nil {
		_ = fl.Unlock()
		return "", false, idempotency.NewBackendError("filelock.write_expiry", err)
	}

	l.mu.Lock()
	l.holds[key] = &hold{flock: fl, token: token}
	l.mu.Unlock()

	// Self-expiry: release automatically once ttl elapses so a crashed
	// holder's lock is reclaimed without any renewal.
	time.AfterFunc(ttl, func() {
		l.mu.Lock()
		h, ok := l.holds[key]
		if ok && h.token == token {
			delete(l.holds, key)
		}
		l.mu.Unlock()
		if ok {
			_ = fl.Unlock()
		}
	})

	return token, true, nil
}

func (l *Lock) Release(_ context.Context, key string, token idempotency.LockToken) (bool, error) {
	l.mu.Lock()
	h, ok := l.holds[key]
	if !ok || h.token != token {
		l.mu.Unlock()
		return false, nil
	}
	delete(l.holds, key)
	l.mu.Unlock()

	if err := h.flock.Unlock(); err != nil {
		return false, idempotency.NewBackendError("filelock.unlock", err)
	}
	_ = os.Remove(l.pathFor(key))
	return true, nil
}

func (l *Lock) IsLocked(_ context.Context, key string) (bool, error) {
	fl := flock.New(l.pathFor(key))
	locked, err := fl.TryLock()
	if err != nil {
		return false, idempotency.NewBackendError("filelock.islocked", err)
	}
	if locked {
		_ = fl.Unlock()
		return false, nil
	}
	return true, nil
}

func (l *Lock) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (map[string]idempotency.LockToken, bool, error) {
	acquired := make(map[string]idempotency.LockToken, len(keys))
	for _, key := range keys {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			_ = l.ReleaseAll(ctx, acquired)
			return nil, false, err
		}
		if !ok {
			_ = l.ReleaseAll(ctx, acquired)
			return nil, false, nil
		}
		acquired[key] = token
	}
	return acquired, true, nil
}

func (l *Lock) ReleaseAll(ctx context.Context, tokens map[string]idempotency.LockToken) error {
	for key, token := range tokens {
		if _, err := l.Release(ctx, key, token); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every lock still held by this instance, for use at
// process shutdown.
func (l *Lock) Close() error {
	l.mu.Lock()
	holds := l.holds
	l.holds = make(map[string]*hold)
	l.mu.Unlock()

	var firstErr error
	for key, h := range holds {
		if err := h.flock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = os.Remove(l.pathFor(key))
	}
	return firstErr
}

// RenameLock is the rename-based File-system Lock mode: acquisition
// atomically publishes a freshly written temp file at the lock path with a
// hard link (os.Link), which fails if the lock path already exists; an
// existing file whose embedded expiry has passed is removed and the
// attempt retried.
type RenameLock struct {
	dir string

	mu    sync.Mutex
	holds map[string]idempotency.LockToken
}

// NewRenameLock builds a rename-based Lock rooted at dir.
func NewRenameLock(dir string) (*RenameLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &RenameLock{dir: dir, holds: make(map[string]idempotency.LockToken)}, nil
}

var _ idempotency.Lock = (*RenameLock)(nil)

func (l *RenameLock) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])+".lock")
}

func (l *RenameLock) Acquire(ctx context.Context, key string, ttl time.Duration) (idempotency.LockToken, bool, error) {
	path := l.pathFor(key)
	now := time.Now()
	token := idempotency.NewLockToken(now)
	expiry := now.Add(ttl)

	tmp, err := os.CreateTemp(l.dir, "tmp-*.lock")
	if err != nil {
		return "", false, idempotency.NewBackendError("filelock.create_temp", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(strconv.FormatInt(expiry.Unix(), 10) + "\n" + string(token)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", false, idempotency.NewBackendError("filelock.write_temp", err)
	}
	tmp.Close()

	if err := os.Link(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		if !errors.Is(err, os.ErrExist) {
			return "", false, idempotency.NewBackendError("filelock.link", err)
		}
		if l.reapIfExpired(path) {
			return l.Acquire(ctx, key, ttl)
		}
		return "", false, nil
	}
	os.Remove(tmpPath)

	l.mu.Lock()
	l.holds[key] = token
	l.mu.Unlock()
	return token, true, nil
}

// reapIfExpired removes path if its embedded expiry has passed, returning
// true when it did so (so the caller may retry acquisition).
func (l *RenameLock) reapIfExpired(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	lines := strings.SplitN(string(raw), "\n", 2)
	if len(lines) == 0 {
		return false
	}
	expiryUnix, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() < expiryUnix {
		return false
	}
	return os.Remove(path) == nil
}

func (l *RenameLock) Release(_ context.Context, key string, token idempotency.LockToken) (bool, error) {
	l.mu.Lock()
	held, ok := l.holds[key]
	if !ok || held != token {
		l.mu.Unlock()
		return false, nil
	}
	delete(l.holds, key)
	l.mu.Unlock()

	if err := os.Remove(l.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return false, idempotency.NewBackendError("filelock.remove", err)
	}
	return true, nil
}

func (l *RenameLock) IsLocked(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.pathFor(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, idempotency.NewBackendError("filelock.stat", err)
	}
	return true, nil
}

func (l *RenameLock) AcquireAll(ctx context.Context, keys []string, ttl time.Duration) (map[string]idempotency.LockToken, bool, error) {
	acquired := make(map[string]idempotency.LockToken, len(keys))
	for _, key := range keys {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			_ = l.ReleaseAll(ctx, acquired)
			return nil, false, err
		}
		if !ok {
			_ = l.ReleaseAll(ctx, acquired)
			return nil, false, nil
		}
		acquired[key] = token
	}
	return acquired, true, nil
}

func (l *RenameLock) ReleaseAll(ctx context.Context, tokens map[string]idempotency.LockToken) error {
	for key, token := range tokens {
		if _, err := l.Release(ctx, key, token); err != nil {
			return err
		}
	}
	return nil
}
