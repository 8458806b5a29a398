// Package gate implements the individual eligibility checks for proactive triggers.
//
// Every check is a pure function of configuration, conversation state and the
// supplied clock reading. Mutating helpers (Commit, RecordActivity, RecordReply)
// operate on the state passed in and never touch storage.
package gate

import "time"

// Reason explains why a conversation is not eligible for a proactive trigger.
type Reason string

// Ineligibility reasons, in evaluation order.
const (
	ReasonNone                     Reason = ""
	ReasonDisabled                 Reason = "disabled"
	ReasonFiltered                 Reason = "filtered"
	ReasonQuietHours               Reason = "quiet_hours"
	ReasonAwaitingReply            Reason = "awaiting_reply"
	ReasonDailyCap                 Reason = "daily_cap"
	ReasonMinInterval              Reason = "min_interval"
	ReasonSilenceDetectionDisabled Reason = "silence_detection_disabled"
	ReasonNoActivity               Reason = "no_activity"
	ReasonSilenceNotReached        Reason = "silence_not_reached"
	ReasonDispatchInFlight         Reason = "dispatch_in_flight"
)

const dayLayout = "2006-01-02"

// DayKey returns the calendar date of t in t's own location.
func DayKey(t time.Time) string {
	return t.Format(dayLayout)
}

// dayKeyIn returns the calendar date of t as observed in loc.
func dayKeyIn(t time.Time, loc *time.Location) string {
	if loc == nil {
		return DayKey(t)
	}
	return DayKey(t.In(loc))
}
