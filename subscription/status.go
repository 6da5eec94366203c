package subscription

import "strings"

// StatusSignals are the provider inputs status derivation looks at.
type StatusSignals struct {
	RawStatus         string
	CancelAtPeriodEnd bool
	Amount            int64
}

type statusRule struct {
	name   string
	match  func(StatusSignals) bool
	status Status
}

// statusRules is evaluated top-down; the first match wins.
var statusRules = []statusRule{
	{
		name:   "provider-canceled",
		match:  func(s StatusSignals) bool { return rawIs(s.RawStatus, "canceled") },
		status: StatusCanceled,
	},
	{
		name:   "cancel-at-period-end",
		match:  func(s StatusSignals) bool { return s.CancelAtPeriodEnd },
		status: StatusCancelAtPeriodEnd,
	},
	{
		// A real charge ends the trial even if the provider still reports it.
		name:   "provider-trialing",
		match:  func(s StatusSignals) bool { return rawIs(s.RawStatus, "trialing") && s.Amount <= 0 },
		status: StatusTrialing,
	},
}

// DeriveStatus maps provider signals to a lifecycle status. Anything no
// rule matches is active.
func DeriveStatus(s StatusSignals) Status {
	status, _ := deriveStatus(s)
	return status
}

// deriveStatus also returns the name of the matching rule, for logs.
func deriveStatus(s StatusSignals) (Status, string) {
	for _, r := range statusRules {
		if r.match(s) {
			return r.status, r.name
		}
	}
	return StatusActive, "default"
}

func rawIs(raw, want string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), want)
}
