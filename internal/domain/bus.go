package domain

import "time"

// ApprovalRequest is an escalated command waiting for a human verdict.
type ApprovalRequest struct {
	ID        string
	Command   string
	Reason    string // why the engine escalated (e.g. "not allowlisted")
	Source    string // submitting component, e.g. "gateway" or "cli"
	Timestamp time.Time
}

// ApprovalResolution is the human verdict for a pending request.
type ApprovalResolution struct {
	RequestID string
	Approved  bool
	Via       string // cli | telegram | timeout
	Timestamp time.Time
}

// ApprovalBus routes pending approval requests to confirmation channels
// and resolutions back to the waiting caller.
type ApprovalBus interface {
	Publish(req ApprovalRequest)
	Subscribe() <-chan ApprovalRequest
	Resolve(res ApprovalResolution)
	Await(requestID string) <-chan ApprovalResolution
	Forget(requestID string)
	Close()
}
