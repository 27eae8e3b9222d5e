package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps one JSON file per key under Dir.  It suits a single
// instance: the mutex serialises requests inside this process, but two
// processes sharing Dir may interleave their read-modify-write and admit a
// few requests over the limit.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ratelimit dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

type fileState struct {
	WindowStartMs  int64 `json:"window_start"`
	Count          int   `json:"count"`
	BlockedUntilMs int64 `json:"blocked_until,omitempty"`
}

func (s *FileStore) Hit(ctx context.Context, key string, p Profile, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	st, err := s.read(path)
	if err != nil {
		return Decision{}, err
	}
	st, d := apply(st, p, now)
	if err := s.write(path, st); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

func (s *FileStore) read(path string) (state, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return state{}, nil
	}
	if err != nil {
		return state{}, fmt.Errorf("read ratelimit state: %w", err)
	}
	var fst fileState
	if err := json.Unmarshal(b, &fst); err != nil {
		// A torn or foreign file restarts the window.
		return state{}, nil
	}
	st := state{Count: fst.Count}
	if fst.WindowStartMs > 0 {
		st.WindowStart = time.UnixMilli(fst.WindowStartMs)
	}
	if fst.BlockedUntilMs > 0 {
		st.BlockedUntil = time.UnixMilli(fst.BlockedUntilMs)
	}
	return st, nil
}

func (s *FileStore) write(path string, st state) error {
	fst := fileState{Count: st.Count, WindowStartMs: st.WindowStart.UnixMilli()}
	if !st.BlockedUntil.IsZero() {
		fst.BlockedUntilMs = st.BlockedUntil.UnixMilli()
	}
	b, err := json.Marshal(fst)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".rl-*")
	if err != nil {
		return fmt.Errorf("write ratelimit state: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ratelimit state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write ratelimit state: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
