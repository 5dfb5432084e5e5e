package workflow

import (
	"fmt"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// Decision is the action requested against the current status.
type Decision string

const (
	DecisionSubmit  Decision = "SUBMIT"
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
	DecisionCancel  Decision = "CANCEL"
	// DecisionAdvance is reserved for system driven moves (PO created, goods received, fully billed).
	DecisionAdvance Decision = "ADVANCE"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionSubmit, DecisionApprove, DecisionReject, DecisionCancel, DecisionAdvance:
		return true
	default:
		return false
	}
}

// RequiresRemarks reports whether the decision must carry remarks.
func (d Decision) RequiresRemarks() bool {
	return d == DecisionApprove || d == DecisionReject
}

// EffectType names a side effect emitted by a transition.
type EffectType string

const (
	// EffectSendReleaseNotification asks the notification worker to mail the release notice.
	EffectSendReleaseNotification EffectType = "send_release_notification"
)

// Rule is one legal transition.
type Rule struct {
	From     Status
	Decision Decision
	To       Status
	Effects  []EffectType
}

type ruleKey struct {
	from     Status
	decision Decision
}

// Table holds the legal transitions for both aggregates.
type Table struct {
	rules   map[ruleKey]Rule
	pending map[Status]bool
}

// NewTable validates and indexes rules.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{rules: make(map[ruleKey]Rule, len(rules)), pending: make(map[Status]bool)}
	for _, rule := range rules {
		if !rule.From.Valid() || !rule.To.Valid() {
			return nil, fmt.Errorf("workflow: rule %s -[%s]-> %s uses unknown status", rule.From, rule.Decision, rule.To)
		}
		if rule.From.Kind() != rule.To.Kind() {
			return nil, fmt.Errorf("workflow: rule %s -> %s crosses aggregates", rule.From, rule.To)
		}
		if !rule.Decision.Valid() {
			return nil, fmt.Errorf("workflow: rule from %s has unknown decision %q", rule.From, rule.Decision)
		}
		key := ruleKey{from: rule.From, decision: rule.Decision}
		if _, dup := t.rules[key]; dup {
			return nil, fmt.Errorf("workflow: duplicate rule %s/%s", rule.From, rule.Decision)
		}
		t.rules[key] = rule
		if rule.Decision == DecisionApprove || rule.Decision == DecisionReject {
			t.pending[rule.From] = true
		}
	}
	return t, nil
}

// Plan returns the rule for (from, decision) or a conflict when no rule exists.
func (t *Table) Plan(from Status, decision Decision) (Rule, error) {
	rule, ok := t.rules[ruleKey{from: from, decision: decision}]
	if !ok {
		return Rule{}, fmt.Errorf("workflow: %s not allowed from %s: %w", decision, from, shared.ErrConflict)
	}
	return rule, nil
}

// IsPending reports whether from awaits an approval decision.
func (t *Table) IsPending(from Status) bool {
	return t.pending[from]
}

// DefaultRules returns the procurement transition table.
func DefaultRules() []Rule {
	rules := []Rule{
		{From: PRDraft, Decision: DecisionSubmit, To: PRPendingApproval},
		{From: PRPendingApproval, Decision: DecisionApprove, To: PRApproved},
		{From: PRPendingApproval, Decision: DecisionReject, To: PRRejected},
		{From: PRApproved, Decision: DecisionAdvance, To: PRPendingReceive},
		{From: PRPendingReceive, Decision: DecisionAdvance, To: PRReceived},
		{From: PRReceived, Decision: DecisionSubmit, To: PRPendingRelease},
		{From: PRPendingRelease, Decision: DecisionApprove, To: PRReleased},
		{From: PRPendingRelease, Decision: DecisionReject, To: PRRejected},
		{From: PRDraft, Decision: DecisionCancel, To: PRRejected},
		{From: PRPendingApproval, Decision: DecisionCancel, To: PRRejected},

		{From: PODraft, Decision: DecisionSubmit, To: POPendingApproval1},
		{From: POPendingApproval1, Decision: DecisionApprove, To: POApproved1},
		{From: POPendingApproval1, Decision: DecisionReject, To: PORejected},
		{From: POApproved1, Decision: DecisionSubmit, To: POPendingConfirm},
		{From: POPendingConfirm, Decision: DecisionApprove, To: POConfirmed},
		{From: POPendingConfirm, Decision: DecisionReject, To: PORejected},
		{From: POConfirmed, Decision: DecisionSubmit, To: POPendingApproval2},
		{From: POPendingApproval2, Decision: DecisionApprove, To: POReleased, Effects: []EffectType{EffectSendReleaseNotification}},
		{From: POPendingApproval2, Decision: DecisionReject, To: PORejected},
		{From: POReleased, Decision: DecisionAdvance, To: POCompleted},
	}
	for _, from := range []Status{PODraft, POPendingApproval1, POApproved1, POPendingConfirm, POConfirmed, POPendingApproval2} {
		rules = append(rules, Rule{From: from, Decision: DecisionCancel, To: POCancelled})
	}
	return rules
}

// DefaultTable builds the table from DefaultRules. It panics only on programmer error.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}
