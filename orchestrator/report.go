package orchestrator

import (
	"fmt"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/tasks"
)

// Outcome is the final state of one sub-task.
type Outcome struct {
	// Index is the sub-task's position in the fan-out.
	Index int

	// TaskID is empty if the sub-task could not be assigned at all.
	TaskID   string
	AgentID  string
	Status   tasks.Status
	Attempts int
	Result   any
	Err      error

	// Incomplete is set when the deadline cancelled the sub-task.
	Incomplete bool
}

// Succeeded reports whether the sub-task produced a result.
func (o Outcome) Succeeded() bool {
	return o.Status == tasks.StatusSucceeded
}

// Report is the resolved state of a distribution.
type Report struct {
	ID string

	// Outcomes holds one entry per sub-task in index order.
	Outcomes []Outcome

	// Incomplete lists the IDs of sub-tasks cancelled at the deadline.
	Incomplete []string

	DeadlineExceeded bool
	Elapsed          time.Duration

	// Err is the policy verdict, nil when the policy accepted the report or
	// no policy was configured.
	Err error
}

// Succeeded returns the outcomes that produced a result.
func (r Report) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that ended without a result and were not cut
// off by the deadline.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() && !o.Incomplete {
			out = append(out, o)
		}
	}
	return out
}

// Results returns the values of successful sub-tasks in index order.
func (r Report) Results() []any {
	var out []any
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o.Result)
		}
	}
	return out
}

// Policy decides whether a report satisfies the caller.
type Policy func(Report) error

// AllSucceed accepts a report only if every sub-task succeeded.
func AllSucceed() Policy {
	return AtLeastFraction(1, 1)
}

// Majority accepts a report when more than half the sub-tasks succeeded.
func Majority() Policy {
	return func(r Report) error {
		need := len(r.Outcomes)/2 + 1
		return atLeast(r, need, "majority")
	}
}

// AtLeast accepts a report when at least k sub-tasks succeeded.
func AtLeast(k int) Policy {
	return func(r Report) error {
		return atLeast(r, k, fmt.Sprintf("at least %d", k))
	}
}

// AtLeastFraction accepts a report when at least num/den of the sub-tasks
// succeeded, rounding up.
func AtLeastFraction(num, den int) Policy {
	return func(r Report) error {
		n := len(r.Outcomes)
		need := (n*num + den - 1) / den
		if num == den {
			return atLeast(r, need, "all")
		}
		return atLeast(r, need, fmt.Sprintf("%d/%d", num, den))
	}
}

func atLeast(r Report, need int, label string) error {
	got := len(r.Succeeded())
	if got >= need {
		return nil
	}
	return cerrors.CoordinationFailure(
		fmt.Sprintf("%s policy not met: %d of %d sub-tasks succeeded, %d required",
			label, got, len(r.Outcomes), need),
		cerrors.WithMetadata("distribution", r.ID))
}
