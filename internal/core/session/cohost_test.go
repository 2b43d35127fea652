package session

import (
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequesterSingleOutstanding(t *testing.T) {
	r := NewCoHostRequester(time.Minute)
	defer r.Close()

	_, err := r.Begin("stream-1", "user-ann")
	require.NoError(t, err)

	_, err = r.Begin("stream-1", "user-ann")
	assert.ErrorIs(t, err, domain.ErrCoHostOutstanding)
}

func TestRequesterApprovedBlocksNewRequests(t *testing.T) {
	r := NewCoHostRequester(time.Minute)
	defer r.Close()

	_, err := r.Begin("stream-1", "user-ann")
	require.NoError(t, err)
	require.True(t, r.Approve(domain.CoHostGrant{StreamKey: "key"}))

	_, err = r.Begin("stream-1", "user-ann")
	assert.ErrorIs(t, err, domain.ErrCoHostOutstanding)

	grant := r.Grant()
	require.NotNil(t, grant)
	assert.Equal(t, "key", grant.StreamKey)
}

func TestRequesterTerminalStatesIgnoreLateOutcomes(t *testing.T) {
	r := NewCoHostRequester(time.Minute)
	defer r.Close()

	_, err := r.Begin("stream-1", "user-ann")
	require.NoError(t, err)
	require.True(t, r.Reject())

	assert.False(t, r.Approve(domain.CoHostGrant{}))
	assert.False(t, r.Reject())
	assert.Equal(t, domain.CoHostRejected, r.Current().State)
	assert.Nil(t, r.Grant())
}

func TestRequesterRejectionFreesSlot(t *testing.T) {
	r := NewCoHostRequester(time.Minute)
	defer r.Close()

	_, err := r.Begin("stream-1", "user-ann")
	require.NoError(t, err)
	require.True(t, r.Reject())

	_, err = r.Begin("stream-1", "user-ann")
	assert.NoError(t, err)
}

func TestRequesterPendingExpires(t *testing.T) {
	r := NewCoHostRequester(20 * time.Millisecond)
	defer r.Close()

	_, err := r.Begin("stream-1", "user-ann")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return r.Current().State == domain.CoHostExpired
	}, time.Second, 5*time.Millisecond)

	// Expiry is local-only and frees the slot.
	_, err = r.Begin("stream-1", "user-ann")
	assert.NoError(t, err)
}

func TestApproverQueuesAndResolves(t *testing.T) {
	a := NewCoHostApprover()

	a.Add("stream-1", "user-ann")
	a.Add("stream-1", "user-bob")
	assert.Len(t, a.Pending(), 2)

	req, err := a.Resolve("user-ann", true)
	require.NoError(t, err)
	assert.Equal(t, domain.CoHostApproved, req.State)

	req, err = a.Resolve("user-bob", false)
	require.NoError(t, err)
	assert.Equal(t, domain.CoHostRejected, req.State)

	assert.Empty(t, a.Pending())
	assert.Len(t, a.All(), 2)
}

func TestApproverDuplicateRequestCollapses(t *testing.T) {
	a := NewCoHostApprover()

	first := a.Add("stream-1", "user-ann")
	second := a.Add("stream-1", "user-ann")

	assert.Equal(t, first.RequestedAt, second.RequestedAt)
	assert.Len(t, a.Pending(), 1)
}

func TestApproverResolveUnknown(t *testing.T) {
	a := NewCoHostApprover()

	_, err := a.Resolve("user-ghost", true)
	assert.ErrorIs(t, err, domain.ErrCoHostUnknown)
}

func TestApproverResolveTwice(t *testing.T) {
	a := NewCoHostApprover()
	a.Add("stream-1", "user-ann")

	_, err := a.Resolve("user-ann", true)
	require.NoError(t, err)

	_, err = a.Resolve("user-ann", false)
	assert.ErrorIs(t, err, domain.ErrCoHostUnknown)
}
