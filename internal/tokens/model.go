package tokens

import "time"

// AccessToken gates a participant's session.
type AccessToken struct {
	Token         string     `json:"token"`
	Note          string     `json:"note"`
	CreatedAt     time.Time  `json:"createdAt"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	Invalidated   bool       `json:"invalidated"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
}
