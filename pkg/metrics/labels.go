package metrics

// Attempt statuses used as label values on attempts_total.
const (
	AttemptAccepted      = "accepted"
	AttemptReplayed      = "replayed"
	AttemptNotOpen       = "not_open"
	AttemptEarlyRecorded = "early_recorded"
)

// Reconcile triggers and results used as label values on reconciliations_total.
const (
	TriggerEnd    = "end"
	TriggerExpiry = "expiry"

	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultSkipped   = "skipped"
	ResultError     = "error"
)
