package store

import (
	"time"

	"github.com/otpgate/apiserver/types"
)

// userDocument is the persisted shape of a user. User and activity documents
// may share a collection; activity documents always carry "type" and never
// "isVerified".
type userDocument struct {
	ID          string     `bson:"_id" json:"-"`
	Email       string     `bson:"email" json:"email"`
	Password    string     `bson:"password,omitempty" json:"password,omitempty"`
	IsVerified  bool       `bson:"isVerified" json:"isVerified"`
	Role        string     `bson:"role,omitempty" json:"role,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
	LastLoginAt *time.Time `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
}

func newUserDocument(u types.User) userDocument {
	return userDocument{
		ID:          u.ID,
		Email:       u.Email,
		Password:    u.PasswordHash,
		IsVerified:  u.IsVerified,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func (d userDocument) toUser() types.User {
	return types.User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.Password,
		IsVerified:   d.IsVerified,
		Role:         types.Role(d.Role),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		LastLoginAt:  d.LastLoginAt,
	}
}

type activityDocument struct {
	ID             string    `bson:"_id" json:"-"`
	Type           string    `bson:"type" json:"type"`
	UserID         string    `bson:"userId" json:"userId"`
	Email          string    `bson:"email" json:"email"`
	Username       string    `bson:"username" json:"username"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	DocumentID     string    `bson:"documentId" json:"documentId"`
	SequenceNumber *int64    `bson:"sequenceNumber,omitempty" json:"sequenceNumber,omitempty"`
}

func newActivityDocument(r types.ActivityRecord) activityDocument {
	return activityDocument{
		ID:             r.DocumentID,
		Type:           string(r.Type),
		UserID:         r.UserID,
		Email:          r.Email,
		Username:       r.Username,
		Timestamp:      r.Timestamp,
		DocumentID:     r.DocumentID,
		SequenceNumber: r.SequenceNumber,
	}
}

func (d activityDocument) toRecord() types.ActivityRecord {
	id := d.DocumentID
	if id == "" {
		id = d.ID
	}
	return types.ActivityRecord{
		DocumentID:     id,
		Type:           types.ActivityType(d.Type),
		UserID:         d.UserID,
		Email:          d.Email,
		Username:       d.Username,
		Timestamp:      d.Timestamp,
		SequenceNumber: d.SequenceNumber,
	}
}

// activityTypes lists the "type" values that mark a document as an activity record.
var activityTypes = []string{
	string(types.ActivitySignUp),
	string(types.ActivitySignIn),
	string(types.ActivitySignOut),
}
