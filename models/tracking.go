package models

import "time"

// OpenRequest is a decoded pixel request.
type OpenRequest struct {
	Sheet      string    `json:"sheet"`
	RawRow     string    `json:"row"`
	Email      string    `json:"email"`
	UserAgent  string    `json:"user_agent"`
	IPAddress  string    `json:"ip_address"`
	SentHint   string    `json:"t,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Method     string    `json:"method"`
}

// Decision is the outcome of the open-tracking pipeline for one request.
type Decision string

const (
	DecisionMissingFields    Decision = "missing_fields"
	DecisionProbe            Decision = "probe"
	DecisionAutomatedClient  Decision = "automated_client"
	DecisionImageProxy       Decision = "image_proxy"
	DecisionRowNotFound      Decision = "row_not_found"
	DecisionIdentityMismatch Decision = "identity_mismatch"
	DecisionNotSent          Decision = "not_sent"
	DecisionPremature        Decision = "premature"
	DecisionAlreadyOpened    Decision = "already_opened"
	DecisionInFlight         Decision = "in_flight"
	DecisionRecorded         Decision = "recorded"
	DecisionStoreError       Decision = "store_error"
)

// Recorded reports whether the decision produced a state change.
func (d Decision) Recorded() bool {
	return d == DecisionRecorded
}

// OpenEvent is emitted after an open has been committed.
type OpenEvent struct {
	Sheet     string    `json:"sheet"`
	Row       int       `json:"row"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	SentAt    string    `json:"sent_at"`
	OpenedAt  time.Time `json:"opened_at"`
}
