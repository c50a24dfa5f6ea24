package syncer

// Status classifies the outcome of one assignee's sync branch.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// SkipReason says why a branch was skipped. The kill switch is not a
// failure; neither is an ineligible task.
type SkipReason string

const (
	SkipDisabled    SkipReason = "disabled"
	SkipNotEligible SkipReason = "not-eligible"
)

// Result is the per-assignee outcome of a sync invocation. The aggregate
// result list is the only channel through which sync failures become
// visible; they never roll back the triggering task mutation.
type Result struct {
	AssigneeID string     `json:"assignee_id"`
	Status     Status     `json:"status"`
	EventID    string     `json:"event_id,omitempty"`
	Reason     SkipReason `json:"reason,omitempty"`
	Err        error      `json:"-"`
}

func okResult(assigneeID, eventID string) Result {
	return Result{AssigneeID: assigneeID, Status: StatusOK, EventID: eventID}
}

func skippedResult(assigneeID string, reason SkipReason) Result {
	return Result{AssigneeID: assigneeID, Status: StatusSkipped, Reason: reason}
}

func failedResult(assigneeID string, err error) Result {
	return Result{AssigneeID: assigneeID, Status: StatusFailed, Err: err}
}
