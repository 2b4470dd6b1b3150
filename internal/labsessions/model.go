package labsessions

import (
	"time"

	"letterlab-backend/internal/compare"
)

// Belief categories, in presentation order.
const (
	CategoryEnactiveMastery     = "BSETB_enactive_mastery"
	CategoryVicariousExperience = "BSETB_vicarious_experience"
	CategoryVerbalPersuasion    = "BSETB_verbal_persuasion"
)

// Categories lists the three belief categories in order.
var Categories = []string{
	CategoryEnactiveMastery,
	CategoryVicariousExperience,
	CategoryVerbalPersuasion,
}

// CategoryFor maps a bullet index onto its category.
func CategoryFor(index int) string {
	if index < 0 {
		return ""
	}
	return Categories[index%len(Categories)]
}

const (
	PhaseControl = "control"
	PhaseAligned = "aligned"
)

// Likert holds the four 1-7 profile ratings.
type Likert struct {
	Accuracy   *int `json:"accuracy" validate:"required,min=1,max=7"`
	Control    *int `json:"control" validate:"required,min=1,max=7"`
	Expression *int `json:"expression" validate:"required,min=1,max=7"`
	Alignment  *int `json:"alignment" validate:"required,min=1,max=7"`
}

// OpenResponses holds the three free-text profile answers.
type OpenResponses struct {
	Likes    string `json:"likes" validate:"required"`
	Dislikes string `json:"dislikes" validate:"required"`
	Changes  string `json:"changes" validate:"required"`
}

// Profile is a generated profile and the participant's responses to it.
type Profile struct {
	Text          string         `json:"text"`
	Likert        *Likert        `json:"likert_responses,omitempty"`
	OpenResponses *OpenResponses `json:"open_responses,omitempty"`
	GeneratedAt   *time.Time     `json:"generated_at,omitempty"`
	RespondedAt   *time.Time     `json:"responded_at,omitempty"`
}

// HasResponses reports whether the participant answered the profile survey.
func (p *Profile) HasResponses() bool {
	return p != nil && p.Likert != nil && p.OpenResponses != nil
}

// Bullet is one self-efficacy statement.
type Bullet struct {
	Index     int    `json:"index"`
	Category  string `json:"category"`
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

// Iteration is one append-only refinement record for a bullet.
type Iteration struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	BulletIndex     int       `json:"bullet_index"`
	IterationNumber int       `json:"iteration_number"`
	BulletText      string    `json:"bullet_text"`
	Rationale       string    `json:"rationale"`
	UserRating      *int      `json:"user_rating"`
	UserFeedback    string    `json:"user_feedback"`
	IsFinal         bool      `json:"is_final"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChatMessage is one turn of a draft chat panel.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DraftFeedback is what the participant said about one anonymized draft.
type DraftFeedback struct {
	Likes        string        `json:"likes"`
	Dislikes     string        `json:"dislikes"`
	Authenticity *int          `json:"authenticity,omitempty"`
	Chat         []ChatMessage `json:"chat,omitempty"`
}

// FinalFeedback is the aggregate comparison submission.
type FinalFeedback struct {
	DraftMapping compare.Mapping          `json:"draft_mapping"`
	Ratings      compare.Ratings          `json:"ratings"`
	Feedback     map[string]DraftFeedback `json:"feedback,omitempty"`
	Preference   compare.Preference       `json:"preference"`
	Comments     string                   `json:"comments,omitempty"`
	SubmittedAt  time.Time                `json:"submitted_at"`
}

// Session is the document stored for one participant.
type Session struct {
	ID                 string           `json:"id"`
	TokenRef           string           `json:"-"`
	Resume             string           `json:"resume"`
	JobDescription     string           `json:"job_desc"`
	InitialCoverLetter string           `json:"initial_cover_letter"`
	ReviewIntro        string           `json:"review_all_view_intro"`
	Bullets            []Bullet         `json:"bullets"`
	ControlProfile     *Profile         `json:"control_profile,omitempty"`
	AlignedProfile     *Profile         `json:"aligned_profile,omitempty"`
	DraftMapping       *compare.Mapping `json:"draft_mapping,omitempty"`
	FinalFeedback      *FinalFeedback   `json:"final_feedback,omitempty"`
	Completed          bool             `json:"completed"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`

	// Iterations is loaded from its own table and never stored in the document.
	Iterations []Iteration `json:"iterations,omitempty"`
}

// BulletsByCategory groups bullets under their category keys.
func (s Session) BulletsByCategory() map[string][]Bullet {
	out := make(map[string][]Bullet, len(Categories))
	for _, cat := range Categories {
		out[cat] = []Bullet{}
	}
	for _, b := range s.Bullets {
		out[b.Category] = append(out[b.Category], b)
	}
	return out
}

// checkOrder enforces the append rule for a bullet's iteration log.
func checkOrder(last *Iteration, next int) error {
	if next < 1 {
		return ErrInvalidInput
	}
	if last == nil {
		return nil
	}
	if next < last.IterationNumber {
		return ErrConflict
	}
	if last.IsFinal && next <= last.IterationNumber {
		return ErrConflict
	}
	return nil
}
