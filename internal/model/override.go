package model

import "time"

// Override is locally held reconciliation state keyed by order id.
// Reconciled=false implies ReconciledBy and ReconciledAt are nil.
type Override struct {
	Reconciled   bool       `json:"reconciled"`
	ReconciledBy *string    `json:"reconciled_by,omitempty"`
	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

// ReconciliationPatch is a partial update; nil fields are left as they are.
type ReconciliationPatch struct {
	Reconciled *bool   `json:"reconciled,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

func (p ReconciliationPatch) Empty() bool {
	return p.Reconciled == nil && p.Notes == nil
}

// Apply returns ov updated by p. Moving to reconciled stamps actor and now;
// moving to unreconciled clears both stamps.
func (p ReconciliationPatch) Apply(ov Override, actor string, now time.Time) Override {
	if p.Reconciled != nil {
		switch {
		case *p.Reconciled && !ov.Reconciled:
			by := actor
			at := now.UTC()
			ov.Reconciled = true
			ov.ReconciledBy = &by
			ov.ReconciledAt = &at
		case !*p.Reconciled:
			ov.Reconciled = false
			ov.ReconciledBy = nil
			ov.ReconciledAt = nil
		}
	}
	if p.Notes != nil {
		notes := *p.Notes
		ov.Notes = &notes
	}
	return ov
}
