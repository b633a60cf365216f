package coalesce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"coalesce/pkg/coalerr"
)

func TestTupleCompleteIsSingleAssignment(t *testing.T) {
	tp := newTuple[int, string](1, 1)

	tp.complete("first")
	tp.complete("second")

	val, err := tp.sink.await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "first", val)
}

func TestTupleFailDoesNotOverwriteComplete(t *testing.T) {
	tp := newTuple[int, string](1, 1)

	tp.complete("value")
	tp.fail(coalerr.NewCallbackFailed(assert.AnError))

	val, err := tp.sink.await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "value", val)
}

func TestTupleTryCancelOnlyBeforeDispatch(t *testing.T) {
	tp := newTuple[int, string](1, 1)

	assert.True(t, tp.tryCancel())
	assert.True(t, tp.isCancelled())

	tp2 := newTuple[int, string](2, 2)
	tp2.markDispatched()
	assert.False(t, tp2.tryCancel())
	assert.False(t, tp2.isCancelled())
}
