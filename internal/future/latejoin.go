package future

import "sync"

// LateJoin waits on N sub-handles, succeeding as soon as successThreshold
// of them complete without error, per spec §9's FutureLateJoin combinator.
// It does not cancel the stragglers; callers that want that can Cancel
// them after LateJoin returns.
type LateJoin[T any] struct {
	out *Handle[[]T]
}

// NewLateJoin launches the combinator over subs, completing once
// successThreshold have succeeded, or failing once enough have failed that
// the threshold can no longer be reached.
func NewLateJoin[T any](subs []*Handle[T], successThreshold int) *LateJoin[T] {
	lj := &LateJoin[T]{out: New[[]T]()}
	if successThreshold <= 0 {
		successThreshold = len(subs)
	}

	var mu sync.Mutex
	var successes []T
	failures := 0
	remaining := len(subs)

	if len(subs) == 0 {
		lj.out.Complete(nil)
		return lj
	}

	for _, sub := range subs {
		sub.AddListener(func(v T, err error) {
			mu.Lock()
			defer mu.Unlock()
			remaining--
			if err == nil {
				successes = append(successes, v)
				if len(successes) >= successThreshold {
					result := successes
					if !alreadyDone(lj.out) {
						lj.out.Complete(result)
					}
					return
				}
			} else {
				failures++
			}
			if len(successes) < successThreshold && successThreshold-len(successes) > remaining {
				if !alreadyDone(lj.out) {
					lj.out.Fail(ErrThresholdUnreachable)
				}
			}
		})
	}
	return lj
}

func alreadyDone[T any](h *Handle[T]) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// Handle exposes the combined future.
func (lj *LateJoin[T]) Handle() *Handle[[]T] { return lj.out }

// ErrThresholdUnreachable is returned when too many sub-futures failed for
// the success threshold to ever be met.
var ErrThresholdUnreachable = thresholdErr{}

type thresholdErr struct{}

func (thresholdErr) Error() string { return "future: success threshold unreachable" }
