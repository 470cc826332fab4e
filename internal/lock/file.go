package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loa-labs/flatline/internal/core"
)

// FileService implements Service with O_CREAT|O_EXCL lock files. Each
// lock file carries the holder's PID and acquisition time so stale locks
// left by crashed processes can be reclaimed.
type FileService struct {
	dir     string
	timeout time.Duration
	ttl     time.Duration
	poll    time.Duration
	now     func() time.Time
}

// FileServiceOption configures the service.
type FileServiceOption func(*FileService)

// WithTimeout sets the bounded acquisition wait.
func WithTimeout(d time.Duration) FileServiceOption {
	return func(s *FileService) {
		s.timeout = d
	}
}

// WithTTL sets the age after which a lock held by a live process is
// still considered stale.
func WithTTL(d time.Duration) FileServiceOption {
	return func(s *FileService) {
		s.ttl = d
	}
}

// WithPollInterval sets the retry interval while waiting.
func WithPollInterval(d time.Duration) FileServiceOption {
	return func(s *FileService) {
		s.poll = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) FileServiceOption {
	return func(s *FileService) {
		s.now = now
	}
}

// NewFileService creates a file-based lock service rooted at dir.
func NewFileService(dir string, opts ...FileServiceOption) *FileService {
	s := &FileService{
		dir:     dir,
		timeout: 10 * time.Second,
		ttl:     time.Hour,
		poll:    50 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// holderInfo is the lock file payload.
type holderInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	Class      Class     `json:"class"`
	Resource   string    `json:"resource"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Acquire blocks until the lock is granted, the context is canceled, or
// the configured timeout elapses.
func (s *FileService) Acquire(ctx context.Context, resource string, class Class) (Lock, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	path := s.lockPath(resource, class)
	deadline := s.now().Add(s.timeout)

	for {
		ok, err := s.tryAcquire(path, resource, class)
		if err != nil {
			return nil, err
		}
		if ok {
			return &fileLock{path: path, resource: resource}, nil
		}

		if s.now().After(deadline) {
			return nil, core.ErrLockTimeout(fmt.Sprintf("%s:%s", class, resource))
		}

		select {
		case <-ctx.Done():
			return nil, core.ErrLockTimeout(fmt.Sprintf("%s:%s", class, resource)).WithCause(ctx.Err())
		case <-time.After(s.poll):
		}
	}
}

func (s *FileService) tryAcquire(path, resource string, class Class) (bool, error) {
	s.reclaimStale(path)

	hostname, _ := os.Hostname()
	info := holderInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		Class:      class,
		Resource:   resource,
		AcquiredAt: s.now(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("marshaling lock info: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304 -- path derived from lock dir
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("writing lock file: %w", err)
	}
	return true, nil
}

// reclaimStale removes a lock whose holder is gone or whose TTL has
// expired. Best effort: losing the race to another reclaimer is fine.
func (s *FileService) reclaimStale(path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from lock dir
	if err != nil {
		return
	}
	var info holderInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Unreadable lock file: treat as stale.
		os.Remove(path)
		return
	}
	if s.now().Sub(info.AcquiredAt) >= s.ttl {
		os.Remove(path)
		return
	}
	if !processExists(info.PID) {
		os.Remove(path)
	}
}

func (s *FileService) lockPath(resource string, class Class) string {
	// Resources are arbitrary paths/IDs; hash them into a flat name.
	sum := sha256.Sum256([]byte(resource))
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.lock", class, hex.EncodeToString(sum[:8])))
}

// processExists checks if a process is running.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we send signal 0.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

type fileLock struct {
	path     string
	resource string
	released bool
}

func (l *fileLock) Resource() string {
	return l.resource
}

func (l *fileLock) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock %s: %w", l.resource, err)
	}
	return nil
}

var _ Service = (*FileService)(nil)
