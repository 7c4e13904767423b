// Package orchestrator fans one logical request out to several agents and
// collects the results within a deadline.
//
// # Usage
//
//	orch := orchestrator.New(coord, orchestrator.Config{
//	    Deadline: 2 * time.Second,
//	    Policy:   orchestrator.Majority(),
//	})
//
//	h, err := orch.Distribute(ctx, tasks.Spec{Payload: query}, work, 5)
//	report, err := h.Wait(ctx)
//	for _, o := range report.Succeeded() {
//	    use(o.Result)
//	}
//
// # Deadline
//
// A handle resolves once every sub-task is terminal or the deadline passes,
// whichever comes first. At the deadline, sub-tasks that are still pending,
// assigned or running are cancelled and listed in Report.Incomplete.
// Cancellation is best-effort: the work function may keep running, but its
// result is discarded and its agent and executor slot are released.
//
// # Aggregation
//
// Every sub-task appears exactly once in Report.Outcomes. Whether the
// overall request succeeded is a caller decision expressed as a Policy;
// AllSucceed, Majority and AtLeast cover the common cases.
package orchestrator
