package engine

import "fmt"

// DefaultMaxTaskInstances bounds how many task runs one engine creates.
// OnDone references can form loops (a step whose OnDone restarts its own
// task); the quota turns an unbounded loop into a failed run record.
const DefaultMaxTaskInstances = 10000

// instanceQuota counts task instantiations against a limit.
// Owned by the tick goroutine.
type instanceQuota struct {
	max     int
	current int
}

func newInstanceQuota(max int) *instanceQuota {
	return &instanceQuota{max: max}
}

// Check counts one instantiation and fails once the limit is passed.
func (q *instanceQuota) Check(task, runID string) error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return &RuntimeError{
			Code:    ErrCodeQuotaExceeded,
			Message: fmt.Sprintf("task instance quota exceeded (%d > %d)", q.current, q.max),
			Task:    task,
			TaskRun: runID,
			Order:   -1,
		}
	}
	return nil
}

// Current returns the number of instantiations counted so far.
func (q *instanceQuota) Current() int { return q.current }
