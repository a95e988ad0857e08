package billing

import (
	"time"

	"github.com/MichaelBrandt/CourseGate/app/models"
)

// Display statuses shown to the member. They are derived, never stored.
const (
	DisplayStatusNone         = "none"
	DisplayStatusActive       = "active"
	DisplayStatusTrialing     = "trialing"
	DisplayStatusCanceled     = "canceled"
	DisplayStatusPendingStart = "pending-start"
	DisplayStatusIncomplete   = "incomplete"
)

// Resolution is the derived access decision for a user.
type Resolution struct {
	HasAccess     bool   `json:"has_access"`
	DisplayStatus string `json:"display_status"`
}

// Resolve computes the access decision from all entitlement records of one
// user. It is pure: fixed inputs always produce the same output and nothing
// is read or written outside the arguments.
//
// Rules, in priority order:
//  1. a canceled record (status canceled, or cancel_at in the past) pins the
//     display status to canceled; access is not revoked by this rule alone —
//     revocation is driven by the role synchronizer on a transition, not by
//     the read path
//  2. access is granted iff at least one record is active or trialing and the
//     program-start gate has passed
//  3. an active/trialing record before the gate shows pending-start without
//     access: the member is billed but content is still time-gated
func Resolve(records []models.Entitlement, now time.Time, programStart time.Time) Resolution {
	canceled := false
	entitling := false
	trialingOnly := true
	incomplete := false

	for i := range records {
		r := &records[i]
		switch r.Status {
		case models.EntitlementStatusCanceled:
			canceled = true
		case models.EntitlementStatusActive:
			entitling = true
			trialingOnly = false
		case models.EntitlementStatusTrialing:
			entitling = true
		case models.EntitlementStatusCanceling:
			// Cancellation scheduled but the paid period still runs. Access
			// stays until cancel_at passes; the display already says so.
			entitling = true
			trialingOnly = false
			canceled = true
		case models.EntitlementStatusIncomplete:
			incomplete = true
		}
		if r.CancelAt != nil && !r.CancelAt.After(now) {
			canceled = true
		}
	}

	gateOpen := programStart.IsZero() || !now.Before(programStart)

	res := Resolution{
		HasAccess:     entitling && gateOpen,
		DisplayStatus: DisplayStatusNone,
	}

	switch {
	case canceled:
		res.DisplayStatus = DisplayStatusCanceled
	case entitling && !gateOpen:
		res.DisplayStatus = DisplayStatusPendingStart
	case entitling && trialingOnly:
		res.DisplayStatus = DisplayStatusTrialing
	case entitling:
		res.DisplayStatus = DisplayStatusActive
	case incomplete:
		res.DisplayStatus = DisplayStatusIncomplete
	}

	return res
}
