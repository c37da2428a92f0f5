package model

type SyncPhase string

const (
	PhaseIdle        SyncPhase = "idle"
	PhaseFetching    SyncPhase = "fetching"
	PhaseNormalizing SyncPhase = "normalizing"
	PhaseMerging     SyncPhase = "merging"
	PhaseSucceeded   SyncPhase = "succeeded"
	PhaseFailed      SyncPhase = "failed"
)

// SyncResult reports one sync pass. An unconfigured API is a valid outcome,
// reported with Fallback=true and Source=demo.
type SyncResult struct {
	PassID    string    `json:"pass_id"`
	Message   string    `json:"message"`
	NewOrders int       `json:"new_orders"`
	Source    Source    `json:"source"`
	Fallback  bool      `json:"fallback"`
	Phase     SyncPhase `json:"phase"`
}

type ImportResult struct {
	Message        string   `json:"message"`
	ImportedOrders int      `json:"imported_orders"`
	Skipped        int      `json:"skipped"`
	StoredOrders   int      `json:"stored_orders"`
	Errors         []string `json:"errors,omitempty"`
}
