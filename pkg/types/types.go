package types

import (
	"encoding/json"
	"time"
)

// Roles a user account can carry.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Event names carried in the envelope "event" field.
const (
	EventJoinRoom         = "join:room"
	EventLeaveRoom        = "leave:room"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventMessageSend      = "message:send"
	EventMessageNew       = "message:new"
	EventMessageRead      = "message:read"
	EventCallOffer        = "call:offer"
	EventCallAnswer       = "call:answer"
	EventCallIceCandidate = "call:ice-candidate"
	EventCallEnd          = "call:end"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventError            = "error"
)

// PersonalRoomPrefix prefixes the per-user room every connection joins on registration.
const PersonalRoomPrefix = "user:"

// User is the account record resolved by the user store.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FullName        string     `json:"fullName"`
	Avatar          string     `json:"avatar,omitempty"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"isActive"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Summary returns the public projection of the user attached to connections.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		FullName: u.FullName,
		Avatar:   u.Avatar,
		Role:     u.Role,
	}
}

// UserSummary is the identity a live connection carries for its whole lifetime.
type UserSummary struct {
	ID       string `json:"userId"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
}

// OnlineUser is one entry of the presence listing.
type OnlineUser struct {
	UserSummary
	Connections int       `json:"connections"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Token states reported by RefreshTokenRecord.Status.
const (
	TokenStatusActive  = "active"
	TokenStatusRevoked = "revoked"
	TokenStatusExpired = "expired"
)

// RefreshTokenRecord is a persisted refresh token. Only the hash of the raw
// token is ever stored.
type RefreshTokenRecord struct {
	TokenHash      string     `json:"-"`
	OwnerID        string     `json:"ownerId"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	CreatedByIP    string     `json:"createdByIp,omitempty"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	RevokedByIP    string     `json:"revokedByIp,omitempty"`
	ReplacedByHash *string    `json:"-"`
}

// IsExpired reports whether the record is past its expiry at now.
func (r *RefreshTokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsRevoked reports whether the record has been revoked.
func (r *RefreshTokenRecord) IsRevoked() bool {
	return r.RevokedAt != nil
}

// IsActive reports whether the record can still be exchanged at now.
func (r *RefreshTokenRecord) IsActive(now time.Time) bool {
	return !r.IsRevoked() && !r.IsExpired(now)
}

// Status returns exactly one of the TokenStatus constants. Revocation wins
// over expiry.
func (r *RefreshTokenRecord) Status(now time.Time) string {
	switch {
	case r.IsRevoked():
		return TokenStatusRevoked
	case r.IsExpired(now):
		return TokenStatusExpired
	default:
		return TokenStatusActive
	}
}

// Envelope is the JSON frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (*Envelope, error) {
	if data == nil {
		return &Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: raw}, nil
}

// ErrorPayload is the body of an "error" event sent back to a sender.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
