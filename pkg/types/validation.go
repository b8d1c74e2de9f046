package types

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRegex  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// MaxPayloadBytes bounds the data section of an inbound envelope.
const MaxPayloadBytes = 64 * 1024

// Validate checks an inbound envelope before dispatch.
func (e *Envelope) Validate() error {
	if strings.TrimSpace(e.Event) == "" {
		return ErrEmptyEvent
	}
	if len(e.Data) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID accepts any opaque id of 1-128 characters without
// whitespace or control characters.
func IsValidRoomID(roomID string) bool {
	n := utf8.RuneCountInString(roomID)
	if n < 1 || n > 128 {
		return false
	}
	for _, r := range roomID {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// PersonalRoom returns the room id reserved for userID.
func PersonalRoom(userID string) string {
	return PersonalRoomPrefix + userID
}

// PersonalRoomOwner returns the owner of a personal room id, if roomID is one.
func PersonalRoomOwner(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, PersonalRoomPrefix) {
		return "", false
	}
	owner := strings.TrimPrefix(roomID, PersonalRoomPrefix)
	return owner, owner != ""
}

// IsRegistrableRole reports whether an account may sign up with role.
// Admin accounts are provisioned directly in the store.
func IsRegistrableRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher:
		return true
	default:
		return false
	}
}

// Password bounds in bytes. The upper bound is the bcrypt input limit.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ValidateRegistration checks the fields a new account is created from.
func ValidateRegistration(email, password, fullName, role string) error {
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	name := strings.TrimSpace(fullName)
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		return ErrInvalidFullName
	}
	if !IsRegistrableRole(role) {
		return ErrInvalidRole
	}
	return nil
}

// ParseRoomID reads the room id of a join/leave payload, which is either
// {"roomId": "..."} or a bare JSON string.
func ParseRoomID(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		var body struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return "", ErrInvalidRoomID
		}
		roomID = body.RoomID
	}
	if !IsValidRoomID(roomID) {
		return "", ErrInvalidRoomID
	}
	return roomID, nil
}
