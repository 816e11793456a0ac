package domain

import (
	"time"
)

// StatusHistoryEntry is one recorded status observation. History is
// append-only and chronological by upload order, oldest first.
type StatusHistoryEntry struct {
	Status                Status    `json:"status"`
	StatusDate            time.Time `json:"status_date"`
	PreviousStatus        Status    `json:"previous_status"`
	DaysSinceStatusChange int       `json:"days_since_status_change"`
}

// Property is the canonical tracked record for one tax account. All original
// spreadsheet columns survive verbatim in Attributes; the engine-managed
// status fields live alongside them.
type Property struct {
	// ID is the tax-account identifier resolved from the upload (CAN,
	// account number, parcel number - see ResolveIdentity)
	ID string `json:"id"`

	CurrentStatus    Status    `json:"current_status"`
	PreviousStatus   Status    `json:"previous_status"`
	StatusChangeDate time.Time `json:"status_change_date"`

	// DaysSinceStatusChange is derived from StatusChangeDate at
	// reconciliation time; readers needing a live value should call
	// DaysSince with their own clock
	DaysSinceStatusChange int `json:"days_since_status_change"`

	StatusHistory []StatusHistoryEntry `json:"status_history"`

	// Attributes holds every passthrough column of the latest upload for
	// this identifier, merged over earlier values (latest upload wins)
	Attributes map[string]any `json:"attributes"`

	// Latitude/Longitude are filled in by the geocoding backfill
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// MotivationScore is the 0-100 seller-motivation ranking
	MotivationScore *int `json:"motivation_score,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// DaysSince returns the whole-day difference between now and the last
// detected status change, never negative.
func (p *Property) DaysSince(now time.Time) int {
	return WholeDays(p.StatusChangeDate, now)
}

// Address returns the property's best-effort street address from its
// passthrough attributes.
func (p *Property) Address() string {
	return ResolveAddress(p.Attributes)
}

// Clone returns a deep copy of the property. Reconciliation and report
// building operate on copies so the caller's snapshot stays untouched.
func (p *Property) Clone() Property {
	out := *p
	out.StatusHistory = make([]StatusHistoryEntry, len(p.StatusHistory))
	copy(out.StatusHistory, p.StatusHistory)
	out.Attributes = make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		out.Attributes[k] = v
	}
	if p.Latitude != nil {
		lat := *p.Latitude
		out.Latitude = &lat
	}
	if p.Longitude != nil {
		lng := *p.Longitude
		out.Longitude = &lng
	}
	if p.MotivationScore != nil {
		score := *p.MotivationScore
		out.MotivationScore = &score
	}
	return out
}

// StatusChangeEvent describes one transition detected in a reconciliation
// run. It is a reporting projection over the merge, journaled for the change
// feed but never used to rebuild property state.
type StatusChangeEvent struct {
	PropertyID      string    `json:"property_id"`
	OldStatus       Status    `json:"old_status"`
	NewStatus       Status    `json:"new_status"`
	DaysSinceChange int       `json:"days_since_change"`
	ChangedAt       time.Time `json:"changed_at"`

	// Property is the merged record as of this event
	Property *Property `json:"property,omitempty"`
}

// WholeDays returns the number of complete 24h periods between from and to,
// clamped at zero.
func WholeDays(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
