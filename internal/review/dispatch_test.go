package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchKeysDriveFullReview(t *testing.T) {
	svc := newFakeService()
	ctx := context.Background()
	_, s := claimed(t, svc, 42)
	d := NewDispatcher(DefaultKeymap())
	release := d.Bind(s)
	defer release()

	_, delivered, err := d.Dispatch(ctx, KeyEnter)
	require.NoError(t, err)
	assert.False(t, delivered, "no input while loading")
	require.NoError(t, s.Load(ctx))

	for _, key := range []string{"", KeyEnter, "N", "n", "r"} {
		_, delivered, err := d.Dispatch(ctx, key)
		require.NoError(t, err)
		require.True(t, delivered, "key %q", key)
	}
	require.NotNil(t, s.Prompt())

	out, delivered, err := d.Dispatch(ctx, "y")
	require.NoError(t, err)
	require.True(t, delivered)
	assert.Equal(t, StepResolved, out.To)

	out, delivered, err = d.Dispatch(ctx, KeyEnter)
	require.NoError(t, err)
	require.True(t, delivered)
	assert.True(t, out.Done)
	assert.Nil(t, d.Bound(), "finished session unbinds itself")

	_, delivered, _ = d.Dispatch(ctx, KeyEnter)
	assert.False(t, delivered)
}

func TestDispatchIgnoresLoadingEvenWhenBound(t *testing.T) {
	ctx := context.Background()
	_, s := claimed(t, newFakeService(), 42)
	keys := DefaultKeymap()
	keys.Steps[StepLoading] = map[string]Action{KeyEnter: ActionAcknowledge}
	d := NewDispatcher(keys)
	defer d.Bind(s)()

	out, delivered, err := d.Dispatch(ctx, KeyEnter)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, StepLoading, out.To)
	assert.Equal(t, StepLoading, s.Step())
	assert.False(t, StepLoading.Interactive())
	assert.True(t, StepAskAction.Interactive())
}

func TestDispatchDropsOutOfScopeKeys(t *testing.T) {
	ctx := context.Background()
	_, s := claimed(t, newFakeService(), 42)
	require.NoError(t, s.Load(ctx))
	d := NewDispatcher(DefaultKeymap())
	defer d.Bind(s)()

	for _, key := range []string{"n", "r", "1", "y", "x"} {
		out, delivered, err := d.Dispatch(ctx, key)
		require.NoError(t, err)
		assert.False(t, delivered, "key %q in show-data", key)
		assert.Equal(t, StepShowData, out.To)
	}
	assert.Equal(t, StepShowData, s.Step())
}

func TestDispatchEscapeCancelsPrompt(t *testing.T) {
	svc := newFakeService()
	ctx := context.Background()
	_, s := claimed(t, svc, 42)
	advanceTo(t, s, StepAskAction)
	d := NewDispatcher(DefaultKeymap())
	defer d.Bind(s)()

	_, delivered, err := d.Dispatch(ctx, "1")
	require.NoError(t, err)
	require.True(t, delivered)

	_, delivered, _ = d.Dispatch(ctx, "r")
	assert.False(t, delivered, "action keys are out of scope while the prompt is open")

	out, delivered, err := d.Dispatch(ctx, KeyEscape)
	require.NoError(t, err)
	require.True(t, delivered)
	assert.Equal(t, StepAskAction, out.To)
	assert.Zero(t, svc.rejects.Load())
}

func TestReleaseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	_, s := claimed(t, newFakeService(), 42)
	require.NoError(t, s.Load(ctx))
	d := NewDispatcher(DefaultKeymap())
	release := d.Bind(s)
	release()

	_, delivered, err := d.Dispatch(ctx, KeyEnter)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, StepShowData, s.Step())
}

func TestStaleReleaseKeepsNewerBinding(t *testing.T) {
	ctx := context.Background()
	_, first := claimed(t, newFakeService(), 1)
	_, second := claimed(t, newFakeService(), 2)
	d := NewDispatcher(DefaultKeymap())
	releaseFirst := d.Bind(first)
	d.Bind(second)
	releaseFirst()
	assert.Same(t, second, d.Bound())

	require.NoError(t, second.Load(ctx))
	_, delivered, err := d.Dispatch(ctx, KeyEnter)
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, StepShowSeismograms, second.Step())
}

func TestKeysFor(t *testing.T) {
	k := DefaultKeymap()
	assert.Equal(t, []string{"1", "R", "r"}, k.KeysFor(StepAskAction, false, ActionReject))
	assert.Equal(t, []string{"N", "esc", "n"}, k.KeysFor(StepAskAction, true, ActionCancel))
}
