package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimSuccessStartsLoadingSession(t *testing.T) {
	svc := newFakeService()
	ctrl := NewController(svc, quietLogger())
	ev := testEvent(7)
	ctrl.Select(ev)

	out := ctrl.AttemptClaim(context.Background(), ev)

	require.True(t, out.Claimed())
	assert.NoError(t, out.Reason)
	assert.Same(t, out.Session, ctrl.Active())
	assert.Equal(t, ev, out.Session.Event)
	assert.Equal(t, StepLoading, out.Session.Step())
	assert.NotEmpty(t, out.Session.ID)
	assert.EqualValues(t, 1, svc.claims.Load())
}

func TestClaimUnavailableClearsSelection(t *testing.T) {
	svc := newFakeService()
	svc.claimErr = errors.New("409 conflict: event already blocked")
	ctrl := NewController(svc, quietLogger())
	ev := testEvent(42)
	ctrl.Select(ev)

	out := ctrl.AttemptClaim(context.Background(), ev)

	assert.False(t, out.Claimed())
	assert.Nil(t, out.Session)
	require.Error(t, out.Reason)
	assert.ErrorIs(t, out.Reason, svc.claimErr)
	assert.Nil(t, ctrl.Active(), "no session may exist for event 42")
	_, selected := ctrl.Selected()
	assert.False(t, selected)
}

func TestClaimRefusedWhileSessionActive(t *testing.T) {
	svc := newFakeService()
	ctrl := NewController(svc, quietLogger())
	first := ctrl.AttemptClaim(context.Background(), testEvent(1))
	require.True(t, first.Claimed())

	second := ctrl.AttemptClaim(context.Background(), testEvent(2))

	assert.False(t, second.Claimed())
	assert.ErrorIs(t, second.Reason, ErrSessionActive)
	assert.Same(t, first.Session, ctrl.Active())
	assert.EqualValues(t, 1, svc.claims.Load(), "no service call for the refused claim")
}

func TestReleaseAllowsNextClaim(t *testing.T) {
	svc := newFakeService()
	ctrl := NewController(svc, quietLogger())
	ctx := context.Background()
	first := ctrl.AttemptClaim(ctx, testEvent(1))
	require.True(t, first.Claimed())
	require.NoError(t, first.Session.Load(ctx))

	require.NoError(t, ctrl.Release())
	assert.Nil(t, ctrl.Active())

	next := ctrl.AttemptClaim(ctx, testEvent(2))
	require.True(t, next.Claimed())
	assert.NotEqual(t, first.Session.ID, next.Session.ID)
}

func TestDeselect(t *testing.T) {
	ctrl := NewController(newFakeService(), quietLogger())
	ctrl.Select(testEvent(3))
	got, ok := ctrl.Selected()
	require.True(t, ok)
	assert.EqualValues(t, 3, got.ID)
	ctrl.Deselect()
	_, ok = ctrl.Selected()
	assert.False(t, ok)
}
