package types

import "time"

// ActivityType enumerates the authentication events that are logged.
type ActivityType string

const (
	ActivitySignUp  ActivityType = "sign-up"
	ActivitySignIn  ActivityType = "sign-in"
	ActivitySignOut ActivityType = "sign-out"
)

// Sequenced reports whether records of this type carry a sequence number.
func (t ActivityType) Sequenced() bool {
	return t == ActivitySignIn || t == ActivitySignOut
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivitySignUp, ActivitySignIn, ActivitySignOut:
		return true
	}
	return false
}

// ActivityRecord is an immutable entry in the authentication activity log.
type ActivityRecord struct {
	// DocumentID is the deterministic identifier of the record,
	// e.g. "sign-up-alice" or "sign-in-alice-3".
	DocumentID string `json:"documentId"`

	// Type is the kind of event that was recorded.
	Type ActivityType `json:"type"`

	// UserID identifies the user the event belongs to.
	UserID string `json:"userId"`

	// Email is the email address used for the event.
	Email string `json:"email"`

	// Username is the local part of Email.
	Username string `json:"username"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// SequenceNumber orders sign-in and sign-out records per username.
	// It is nil for sign-up records.
	SequenceNumber *int64 `json:"sequenceNumber,omitempty"`
}
