package lock

import (
	"context"

	"github.com/loa-labs/flatline/internal/trajectory"
)

// UnlockedService grants every request without exclusion. It is used
// when the lock tooling is disabled or unavailable: availability wins
// over strict safety, but every unlocked grant leaves an audit marker in
// the trajectory log so the degradation is visible after the fact.
type UnlockedService struct {
	trajectory trajectory.Recorder
}

// NewUnlockedService creates a degraded no-op lock service.
func NewUnlockedService(rec trajectory.Recorder) *UnlockedService {
	if rec == nil {
		rec = trajectory.Nop{}
	}
	return &UnlockedService{trajectory: rec}
}

// Acquire always succeeds and records the unlocked operation.
func (s *UnlockedService) Acquire(_ context.Context, resource string, class Class) (Lock, error) {
	// Recording failures are swallowed: the audit marker is best effort
	// and must not turn a degraded-but-working mode into a hard failure.
	_ = s.trajectory.Record(trajectory.EventUnlockedOperation, map[string]interface{}{
		"resource": resource,
		"class":    string(class),
	})
	return unlockedLock{resource: resource}, nil
}

type unlockedLock struct {
	resource string
}

func (l unlockedLock) Resource() string { return l.resource }
func (l unlockedLock) Release() error   { return nil }

var _ Service = (*UnlockedService)(nil)
