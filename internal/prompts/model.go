package prompts

import "time"

// Type names a prompt slot.
type Type string

const (
	TypeControl        Type = "control"
	TypeBSEGeneration  Type = "bse_generation"
	TypeRegeneration   Type = "regeneration"
	TypeFinalSynthesis Type = "final_synthesis"
	TypeCoverLetter    Type = "cover_letter"
	TypeReviewIntro    Type = "review_intro"
	TypeChat           Type = "chat"
)

// AllTypes lists every prompt slot in display order.
var AllTypes = []Type{
	TypeControl,
	TypeBSEGeneration,
	TypeRegeneration,
	TypeFinalSynthesis,
	TypeCoverLetter,
	TypeReviewIntro,
	TypeChat,
}

// placeholders each type may reference.
var allowedPlaceholders = map[Type][]string{
	TypeControl:        {"resume", "jobDescription"},
	TypeBSEGeneration:  {"resume", "jobDescription"},
	TypeRegeneration:   {"rating", "feedback", "bulletText", "rationale", "iterationHistory", "resume", "jobDescription"},
	TypeFinalSynthesis: {"resume", "jobDescription", "bulletData"},
	TypeCoverLetter:    {"resume", "jobDescription"},
	TypeReviewIntro:    {"jobDescription"},
	TypeChat:           {"draft"},
}

// ParseType validates a raw prompt type.
func ParseType(raw string) (Type, bool) {
	for _, t := range AllTypes {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// Template is one stored version of a prompt.
type Template struct {
	ID         string    `json:"id"`
	PromptType Type      `json:"promptType"`
	Content    string    `json:"content"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedBy string    `json:"modifiedBy"`
	IsActive   bool      `json:"isActive"`
}
