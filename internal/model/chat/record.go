package chat

import "time"

// ReconnectionRecord notes the session a user was in when the realtime connection dropped.
type ReconnectionRecord struct {
	SessionSnapshot Session   `json:"sessionSnapshot"`
	DisconnectedAt  time.Time `json:"disconnectedAt"`
}

// SessionID returns the id of the snapshotted session.
func (r ReconnectionRecord) SessionID() string {
	return r.SessionSnapshot.ID
}
