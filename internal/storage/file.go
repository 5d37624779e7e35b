package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "autoposter/pkg/logx"
)

// fileStore keeps one JSON document per key.
//
// Files:
//   - <prefix>.<key>.json
//   - <prefix>.lock (advisory lock held across each read-modify-write)
//
// Every write goes to a temp file in the same directory, is fsynced and then
// renamed over the target, so readers (including other processes) see either
// the old or the new document.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	prefix string
	lock   *os.File
	closed bool

	// rename is swapped in tests to simulate a crash before the commit point.
	rename func(oldpath, newpath string) error
}

func openFile(cfg Config, log logx.Logger) (Repository, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, base)
	lock, err := os.OpenFile(prefix+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &fileStore{
		log:    log,
		prefix: prefix,
		lock:   lock,
		rename: os.Rename,
	}, nil
}

func (s *fileStore) path(key string) string { return s.prefix + "." + key + ".json" }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Close()
}

func (s *fileStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !validKey(key) {
		return nil, false, fmt.Errorf("invalid key %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	return s.readLocked(key)
}

func (s *fileStore) Save(ctx context.Context, key string, body []byte) error {
	return s.AtomicUpdate(ctx, key, func([]byte, bool) ([]byte, error) { return body, nil })
}

func (s *fileStore) AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// The daemon and one-shot CLI commands may share the directory.
	if err := lockFile(s.lock); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer func() {
		if err := unlockFile(s.lock); err != nil {
			s.log.Warn("unlock failed", logx.String("key", key), logx.Err(err))
		}
	}()

	cur, ok, err := s.readLocked(key)
	if err != nil {
		return err
	}
	next, err := fn(cur, ok)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.writeLocked(key, next)
}

func (s *fileStore) readLocked(key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return b, true, nil
}

func (s *fileStore) writeLocked(key string, body []byte) error {
	target := s.path(key)
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := s.rename(tmp, target); err != nil {
		cleanup()
		return fmt.Errorf("commit %s: %w", key, err)
	}
	s.log.Debug("document written", logx.String("key", key), logx.Int("bytes", len(body)))
	return nil
}
