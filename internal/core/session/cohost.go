package session

import (
	"sync"
	"time"

	"livecast/internal/core/domain"
)

// CoHostRequester is the viewer side of the co-host negotiation. It enforces
// at most one outstanding request per session: a second request while one is
// pending or approved is refused locally without a round trip.
type CoHostRequester struct {
	mu    sync.Mutex
	ttl   time.Duration
	req   *domain.CoHostRequest
	grant *domain.CoHostGrant
	timer *time.Timer
}

// NewCoHostRequester creates a requester whose pending requests expire
// locally after ttl. The expiry is display-only; it is not a server
// contract and correctness never depends on it.
func NewCoHostRequester(ttl time.Duration) *CoHostRequester {
	return &CoHostRequester{ttl: ttl}
}

// Begin registers a new pending request. Returns
// domain.ErrCoHostOutstanding when one is already pending or approved.
func (r *CoHostRequester) Begin(streamID domain.StreamID, requester domain.Identity) (*domain.CoHostRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.req != nil && (r.req.State == domain.CoHostPending || r.req.State == domain.CoHostApproved) {
		return nil, domain.ErrCoHostOutstanding
	}

	req := &domain.CoHostRequest{
		RequesterID: requester,
		StreamID:    streamID,
		State:       domain.CoHostPending,
		RequestedAt: time.Now(),
	}
	r.req = req
	r.grant = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.ttl, r.expire)

	copied := *req
	return &copied, nil
}

func (r *CoHostRequester) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req != nil && r.req.State == domain.CoHostPending {
		r.req.State = domain.CoHostExpired
	}
}

// Approve resolves the pending request. A terminal request ignores further
// outcomes, so the requester sees exactly one.
func (r *CoHostRequester) Approve(grant domain.CoHostGrant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req == nil || r.req.State != domain.CoHostPending {
		return false
	}
	r.req.State = domain.CoHostApproved
	r.grant = &grant
	if r.timer != nil {
		r.timer.Stop()
	}
	return true
}

// Reject resolves the pending request negatively.
func (r *CoHostRequester) Reject() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req == nil || r.req.State != domain.CoHostPending {
		return false
	}
	r.req.State = domain.CoHostRejected
	if r.timer != nil {
		r.timer.Stop()
	}
	return true
}

// Current returns a copy of the request, or nil when none was ever made.
func (r *CoHostRequester) Current() *domain.CoHostRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req == nil {
		return nil
	}
	copied := *r.req
	return &copied
}

// Grant returns the publish credentials of an approved request.
func (r *CoHostRequester) Grant() *domain.CoHostGrant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grant == nil {
		return nil
	}
	copied := *r.grant
	return &copied
}

// Close stops the expiry timer.
func (r *CoHostRequester) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

// CoHostApprover is the host side: it queues incoming requests and resolves
// each to exactly one outcome.
type CoHostApprover struct {
	mu      sync.Mutex
	pending map[domain.Identity]*domain.CoHostRequest
}

func NewCoHostApprover() *CoHostApprover {
	return &CoHostApprover{pending: make(map[domain.Identity]*domain.CoHostRequest)}
}

// Add queues an incoming request. A duplicate for a requester whose request
// is still pending is ignored and the original returned.
func (a *CoHostApprover) Add(streamID domain.StreamID, requester domain.Identity) *domain.CoHostRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.pending[requester]; ok && existing.State == domain.CoHostPending {
		copied := *existing
		return &copied
	}

	req := &domain.CoHostRequest{
		RequesterID: requester,
		StreamID:    streamID,
		State:       domain.CoHostPending,
		RequestedAt: time.Now(),
	}
	a.pending[requester] = req
	copied := *req
	return &copied
}

// Resolve moves a pending request to its terminal state.
func (a *CoHostApprover) Resolve(requester domain.Identity, approved bool) (*domain.CoHostRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req, ok := a.pending[requester]
	if !ok {
		return nil, domain.ErrCoHostUnknown
	}
	if req.State != domain.CoHostPending {
		return nil, domain.ErrCoHostUnknown
	}
	if approved {
		req.State = domain.CoHostApproved
	} else {
		req.State = domain.CoHostRejected
	}
	copied := *req
	return &copied, nil
}

// Pending lists requests still awaiting a decision.
func (a *CoHostApprover) Pending() []domain.CoHostRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.CoHostRequest, 0, len(a.pending))
	for _, req := range a.pending {
		if req.State == domain.CoHostPending {
			out = append(out, *req)
		}
	}
	return out
}

// All lists every request seen this session.
func (a *CoHostApprover) All() []domain.CoHostRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.CoHostRequest, 0, len(a.pending))
	for _, req := range a.pending {
		out = append(out, *req)
	}
	return out
}
