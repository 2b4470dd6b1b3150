package progress

import "time"

// Event names published by the lab API.
const (
	EventTokenValidated       = "token_validated"
	EventSessionInitialized   = "session_initialized"
	EventControlGenerated     = "control_profile_generated"
	EventPhaseResponsesSaved  = "phase_responses_saved"
	EventBulletsGenerated     = "bse_bullets_generated"
	EventBulletRegenerated    = "bullet_regenerated"
	EventIterationSaved       = "bullet_iteration_saved"
	EventAlignedGenerated     = "aligned_profile_generated"
	EventSessionCompleted     = "session_completed"
	EventFinalFeedback        = "final_feedback_submitted"
	EventChatTurn             = "chat_turn"
	EventCoverLetterGenerated = "cover_letter_generated"
)

// Event is one recorded step of a participant's progress.
type Event struct {
	ID        string         `json:"id"`
	EventName string         `json:"event_name"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}
