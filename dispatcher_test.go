package coalesce

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coalesce/pkg/coalerr"
)

func newTestBatch(cfg *Config[string, string], args ...string) (*batch[string, string], []*tuple[string, string]) {
	members := make([]*tuple[string, string], len(args))
	for i, a := range args {
		members[i] = newTuple[string, string](a, a)
	}
	return &batch[string, string]{id: uuid.New(), members: members, cfg: cfg}, members
}

func TestDispatcherDedupsByIdentity(t *testing.T) {
	var seen []string
	cfg := &Config[string, string]{
		RemoveDuplicates: true,
		Callback: func(args []string) ([]string, error) {
			seen = append([]string{}, args...)
			out := make([]string, len(args))
			for i, a := range args {
				out[i] = "v:" + a
			}
			return out, nil
		},
	}
	bt, members := newTestBatch(cfg, "a", "b", "a", "c", "b")

	d := newDispatcher[string, string](silentLogger())
	unique := d.run(bt)

	assert.Equal(t, 3, unique)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)

	for _, m := range members {
		val, err := m.sink.await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "v:"+m.arg, val)
	}
}

func TestDispatcherNoDedupPreservesArrivalOrder(t *testing.T) {
	var seen []string
	cfg := &Config[string, string]{
		RemoveDuplicates: false,
		Callback: func(args []string) ([]string, error) {
			seen = append([]string{}, args...)
			return args, nil
		},
	}
	bt, _ := newTestBatch(cfg, "a", "a", "b")

	d := newDispatcher[string, string](silentLogger())
	unique := d.run(bt)

	assert.Equal(t, 3, unique)
	assert.Equal(t, []string{"a", "a", "b"}, seen)
}

func TestDispatcherArityMismatchFailsAllMembers(t *testing.T) {
	cfg := &Config[string, string]{
		RemoveDuplicates: true,
		Callback: func(args []string) ([]string, error) {
			return []string{"only-one"}, nil
		},
	}
	bt, members := newTestBatch(cfg, "a", "b")

	d := newDispatcher[string, string](silentLogger())
	d.run(bt)

	for _, m := range members {
		_, err := m.sink.await(context.Background())
		require.Error(t, err)
		ce, ok := err.(*coalerr.CoalesceError)
		require.True(t, ok)
		assert.Equal(t, coalerr.ArityMismatch, ce.Kind)
	}
}

func TestDispatcherCallbackErrorFailsAllMembers(t *testing.T) {
	boom := errors.New("boom")
	cfg := &Config[string, string]{
		RemoveDuplicates: true,
		Callback: func(args []string) ([]string, error) {
			return nil, boom
		},
	}
	bt, members := newTestBatch(cfg, "a", "b")

	d := newDispatcher[string, string](silentLogger())
	d.run(bt)

	for _, m := range members {
		_, err := m.sink.await(context.Background())
		require.Error(t, err)
		ce, ok := err.(*coalerr.CoalesceError)
		require.True(t, ok)
		assert.Equal(t, coalerr.CallbackFailed, ce.Kind)
		assert.ErrorIs(t, ce.Cause, boom)
	}
}

func TestDispatcherCallbackPanicIsRecovered(t *testing.T) {
	cfg := &Config[string, string]{
		RemoveDuplicates: true,
		Callback: func(args []string) ([]string, error) {
			panic("unexpected")
		},
	}
	bt, members := newTestBatch(cfg, "a")

	d := newDispatcher[string, string](silentLogger())
	assert.NotPanics(t, func() { d.run(bt) })

	_, err := members[0].sink.await(context.Background())
	require.Error(t, err)
}

func TestDispatcherSkipsCancelledMembers(t *testing.T) {
	var seen []string
	cfg := &Config[string, string]{
		RemoveDuplicates: true,
		Callback: func(args []string) ([]string, error) {
			seen = append([]string{}, args...)
			return args, nil
		},
	}
	bt, members := newTestBatch(cfg, "a", "b")
	members[0].tryCancel()

	d := newDispatcher[string, string](silentLogger())
	d.run(bt)

	assert.Equal(t, []string{"b"}, seen)
}
