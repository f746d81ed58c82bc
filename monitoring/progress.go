package monitoring

import (
	"sync/atomic"
	"time"
)

// A ProgressBar tracks how much of a known amount of work is done. It is safe
// to update from any goroutine.
type ProgressBar struct {
	id      string
	name    string
	started time.Time
	total   uint64

	finished   atomic.Uint64
	inProgress atomic.Uint64
}

// IncrementInProgress adds amount to the items being worked on.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.inProgress.Add(amount)
}

// IncrementFinished adds amount to the finished items.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.finished.Add(amount)
}

// SetFinished sets the finished amount, for bars that track a level such as
// the virtual time.
func (b *ProgressBar) SetFinished(amount uint64) {
	b.finished.Store(amount)
}

// MoveInProgressToFinished marks amount in-progress items as finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.inProgress.Add(^(amount - 1))
	b.finished.Add(amount)
}

type progressRsp struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

func (b *ProgressBar) snapshot() progressRsp {
	return progressRsp{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.started,
		Total:      b.total,
		Finished:   b.finished.Load(),
		InProgress: b.inProgress.Load(),
	}
}
