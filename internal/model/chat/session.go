package chat

import "time"

// Status is the lifecycle state of a consultation session.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusEnded:
		return true
	}
	return false
}

// Role identifies a side of the consultation.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleProvider
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleProvider {
		return RoleUser
	}
	return RoleProvider
}

// ProviderKind describes who sits on the provider side of a session.
type ProviderKind string

const (
	ProviderExpert ProviderKind = "expert"
	ProviderFriend ProviderKind = "friend"
	ProviderBot    ProviderKind = "bot"
)

// Human reports whether the provider is a person rather than the scripted bot.
func (k ProviderKind) Human() bool {
	return k != ProviderBot
}

// Participant is a reference to one side of a session.
type Participant struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	AvatarRef   string       `json:"avatarRef,omitempty"`
	Kind        ProviderKind `json:"kind,omitempty"`
}

// Participants holds both roles of a session.
type Participants struct {
	User     Participant `json:"user"`
	Provider Participant `json:"provider"`
}

// Of returns the participant playing role.
func (p Participants) Of(role Role) Participant {
	if role == RoleProvider {
		return p.Provider
	}
	return p.User
}

// UnreadCounts keeps one counter per role.
type UnreadCounts struct {
	User     int `json:"userUnreadCount"`
	Provider int `json:"providerUnreadCount"`
}

// Get returns the counter for role.
func (u UnreadCounts) Get(role Role) int {
	if role == RoleProvider {
		return u.Provider
	}
	return u.User
}

// Set stores n for role, clamping negatives to zero.
func (u *UnreadCounts) Set(role Role, n int) {
	if n < 0 {
		n = 0
	}
	if role == RoleProvider {
		u.Provider = n
		return
	}
	u.User = n
}

// Session identifies one consultation instance.
type Session struct {
	ID                 string       `json:"id"`
	Participants       Participants `json:"participants"`
	Status             Status       `json:"status"`
	LastMessagePreview string       `json:"lastMessagePreview,omitempty"`
	Unread             UnreadCounts `json:"unread"`
	CreatedAt          time.Time    `json:"createdAt"`
}
