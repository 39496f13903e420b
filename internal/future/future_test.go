package future

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleCompleteThenAwait(t *testing.T) {
	h := New[int]()
	h.Complete(7)
	v, err := h.Await()
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestHandleFailThenListenerFiresSync(t *testing.T) {
	h := New[int]()
	wantErr := errors.New("boom")
	h.Fail(wantErr)

	called := false
	h.AddListener(func(v int, err error) {
		called = true
		require.ErrorIs(t, err, wantErr)
	})
	require.True(t, called)
}

func TestHandleSecondCompleteIsNoop(t *testing.T) {
	h := New[int]()
	h.Complete(1)
	h.Complete(2)
	v, err := h.Await()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestLateJoinSucceedsAtThreshold(t *testing.T) {
	subs := []*Handle[int]{New[int](), New[int](), New[int]()}
	lj := NewLateJoin(subs, 2)

	subs[0].Complete(1)
	subs[1].Fail(errors.New("fail"))
	subs[2].Complete(3)

	v, err := lj.Handle().Await()
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 3}, v)
}

func TestLateJoinFailsWhenThresholdUnreachable(t *testing.T) {
	subs := []*Handle[int]{New[int](), New[int]()}
	lj := NewLateJoin(subs, 2)

	subs[0].Fail(errors.New("fail"))
	subs[1].Fail(errors.New("fail"))

	_, err := lj.Handle().Await()
	require.ErrorIs(t, err, ErrThresholdUnreachable)
}

func TestLateJoinEmptyCompletesImmediately(t *testing.T) {
	lj := NewLateJoin[int](nil, 0)
	v, err := lj.Handle().Await()
	require.NoError(t, err)
	require.Nil(t, v)
}
