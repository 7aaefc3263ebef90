// Package registry routes asynchronous driver replies back to the matching
// attempt that is waiting for them.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/models"
	"github.com/Slamanii/Ride-hailing/internal/observability"
)

// ErrAlreadyPending means another attempt is already waiting on this driver.
var ErrAlreadyPending = errors.New("registry: notification already pending for driver")

// Registry holds at most one live Pending per driver id.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

func New() *Registry {
	return &Registry{pending: make(map[string]*Pending)}
}

// Pending is a single-use slot. It resolves to exactly one outcome.
type Pending struct {
	DriverID string
	RiderID  string

	reg   *Registry
	reply chan models.Outcome
	done  chan struct{}
}

// Register creates the slot for driverID.
func (r *Registry) Register(driverID, riderID string) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[driverID]; ok {
		return nil, ErrAlreadyPending
	}
	p := &Pending{
		DriverID: driverID,
		RiderID:  riderID,
		reg:      r,
		reply:    make(chan models.Outcome, 1),
		done:     make(chan struct{}),
	}
	r.pending[driverID] = p
	observability.PendingNotifications.Set(float64(len(r.pending)))
	return p, nil
}

// Resolve delivers an outcome and removes the slot. It returns false when no
// slot exists, which is expected for replies that arrive after a timeout.
func (r *Registry) Resolve(driverID string, outcome models.Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[driverID]
	if !ok {
		return false
	}
	delete(r.pending, driverID)
	observability.PendingNotifications.Set(float64(len(r.pending)))
	// buffered with a single sender, so this never blocks
	p.reply <- outcome
	return true
}

// Cancel removes the slot without resolving it and wakes the waiter.
func (r *Registry) Cancel(driverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[driverID]
	if !ok {
		return false
	}
	delete(r.pending, driverID)
	observability.PendingNotifications.Set(float64(len(r.pending)))
	close(p.done)
	return true
}

// Len reports the number of live slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// release drops p only if it is still the slot registered for its driver, so a
// stale handle can never remove a newer attempt's registration.
func (r *Registry) release(p *Pending) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[p.DriverID]; !ok || cur != p {
		return false
	}
	delete(r.pending, p.DriverID)
	observability.PendingNotifications.Set(float64(len(r.pending)))
	close(p.done)
	return true
}

// Cancel releases this handle's slot if it is still live.
func (p *Pending) Cancel() bool {
	return p.reg.release(p)
}

// Wait blocks until the slot resolves, is cancelled, the timeout elapses or ctx
// ends. Cancellation and timeout both yield OutcomeTimeout; the slot is always
// gone from the registry when Wait returns. The error is non-nil only when ctx
// ended.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (models.Outcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.reply:
		return o, nil
	case <-p.done:
		return p.late(models.OutcomeTimeout), nil
	case <-timer.C:
		p.Cancel()
		return p.late(models.OutcomeTimeout), nil
	case <-ctx.Done():
		p.Cancel()
		return p.late(models.OutcomeTimeout), ctx.Err()
	}
}

// late prefers a reply that raced the timeout. Resolve sends while holding the
// registry lock, so once the slot is gone any delivered reply is visible here.
func (p *Pending) late(fallback models.Outcome) models.Outcome {
	select {
	case o := <-p.reply:
		return o
	default:
		return fallback
	}
}
