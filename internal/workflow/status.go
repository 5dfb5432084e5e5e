// Package workflow is the only writer of PR and PO statuses. It owns the
// status enumeration, the lookup-code registry, the transition table and the
// engine that applies decisions atomically.
package workflow

import "errors"

// Kind identifies the aggregate a status belongs to.
type Kind string

const (
	KindPR Kind = "PR"
	KindPO Kind = "PO"
)

// Valid reports whether k is a known aggregate kind.
func (k Kind) Valid() bool {
	return k == KindPR || k == KindPO
}

// Status is a closed enumeration of workflow states. The string value is the
// stable status_key stored next to the numeric code in mst_approval_status.
type Status string

// Purchase request statuses.
const (
	PRDraft           Status = "PR_DRAFT"
	PRPendingApproval Status = "PR_PENDING_APPROVAL"
	PRApproved        Status = "PR_APPROVED"
	PRRejected        Status = "PR_REJECTED"
	PRPendingReceive  Status = "PR_PENDING_RECEIVE"
	PRReceived        Status = "PR_RECEIVED"
	PRPendingRelease  Status = "PR_PENDING_RELEASE"
	PRReleased        Status = "PR_RELEASED"
)

// Purchase order statuses.
const (
	PODraft            Status = "PO_DRAFT"
	POPendingApproval1 Status = "PO_PENDING_APPROVAL_1"
	POApproved1        Status = "PO_APPROVED_1"
	POPendingConfirm   Status = "PO_PENDING_CONFIRM"
	POConfirmed        Status = "PO_CONFIRMED"
	POPendingApproval2 Status = "PO_PENDING_APPROVAL_2"
	POReleased         Status = "PO_RELEASED"
	POCompleted        Status = "PO_COMPLETED"
	PORejected         Status = "PO_REJECTED"
	POCancelled        Status = "PO_CANCELLED"
)

var statusKinds = map[Status]Kind{
	PRDraft:            KindPR,
	PRPendingApproval:  KindPR,
	PRApproved:         KindPR,
	PRRejected:         KindPR,
	PRPendingReceive:   KindPR,
	PRReceived:         KindPR,
	PRPendingRelease:   KindPR,
	PRReleased:         KindPR,
	PODraft:            KindPO,
	POPendingApproval1: KindPO,
	POApproved1:        KindPO,
	POPendingConfirm:   KindPO,
	POConfirmed:        KindPO,
	POPendingApproval2: KindPO,
	POReleased:         KindPO,
	POCompleted:        KindPO,
	PORejected:         KindPO,
	POCancelled:        KindPO,
}

// ErrUnknownStatus is returned when a status value is outside the enumeration.
var ErrUnknownStatus = errors.New("workflow: unknown status")

// KnownStatuses lists every status in declaration order.
func KnownStatuses() []Status {
	return []Status{
		PRDraft, PRPendingApproval, PRApproved, PRRejected,
		PRPendingReceive, PRReceived, PRPendingRelease, PRReleased,
		PODraft, POPendingApproval1, POApproved1, POPendingConfirm, POConfirmed,
		POPendingApproval2, POReleased, POCompleted, PORejected, POCancelled,
	}
}

// Valid reports whether s is part of the enumeration.
func (s Status) Valid() bool {
	_, ok := statusKinds[s]
	return ok
}

// Kind returns the aggregate kind of the status, or "" when unknown.
func (s Status) Kind() Kind {
	return statusKinds[s]
}

// Halted reports whether the PO cascade (GRN, invoices) is stopped.
func (s Status) Halted() bool {
	switch s {
	case PRRejected, PORejected, POCancelled:
		return true
	default:
		return false
	}
}

// AllowsReceiving reports whether goods may be received against a PO in this status.
func (s Status) AllowsReceiving() bool {
	return s == POReleased
}

// AllowsInvoicing reports whether invoices may be created or posted for a PO in this status.
func (s Status) AllowsInvoicing() bool {
	return s == POReleased
}

// AllowsItemEdit reports whether aggregate items may still be changed.
func (s Status) AllowsItemEdit() bool {
	return s == PRDraft || s == PODraft
}

// AllowsScheduleEdit reports whether the PO payment schedule may be (re)configured.
func (s Status) AllowsScheduleEdit() bool {
	return s == PODraft || s == POApproved1
}
