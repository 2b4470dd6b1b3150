// Package wizard is the participant client's core: the session state store,
// screen navigation, the bullet refinement loop, the draft comparison and the
// outbox of best-effort writes.
package wizard

import (
	"encoding/json"
	"strings"
	"time"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labsessions"
)

// Screen names one wizard step.
type Screen string

const (
	ScreenEnterToken        Screen = "enter-token"
	ScreenWelcome           Screen = "welcome"
	ScreenControlProfile    Screen = "control-profile"
	ScreenBulletRefinement  Screen = "bullet-refinement"
	ScreenAlignedProfile    Screen = "aligned-profile"
	ScreenProfileComparison Screen = "profile-comparison"
	ScreenComparisonIntro   Screen = "comparison-intro"
	ScreenDraft1            Screen = "draft1"
	ScreenDraft2            Screen = "draft2"
	ScreenFinalSurvey       Screen = "final-survey"
	ScreenDone              Screen = "done"
)

// Screens lists every step in order.
var Screens = []Screen{
	ScreenEnterToken,
	ScreenWelcome,
	ScreenControlProfile,
	ScreenBulletRefinement,
	ScreenAlignedProfile,
	ScreenProfileComparison,
	ScreenComparisonIntro,
	ScreenDraft1,
	ScreenDraft2,
	ScreenFinalSurvey,
	ScreenDone,
}

func (s Screen) position() int {
	for i, sc := range Screens {
		if sc == s {
			return i
		}
	}
	return -1
}

// BulletPhase is where a bullet sits in the refine loop.
type BulletPhase string

const (
	PhasePresented    BulletPhase = "presented"
	PhaseRated        BulletPhase = "rated"
	PhaseRegenerating BulletPhase = "regenerating"
	PhaseAccepted     BulletPhase = "accepted"
)

// ProfileState is a generated profile and the answers collected for it.
type ProfileState struct {
	Text   string                    `json:"text"`
	Likert labsessions.Likert        `json:"likert"`
	Open   labsessions.OpenResponses `json:"open"`
}

// Answered reports whether every Likert value is on scale and every open
// question has text.
func (p *ProfileState) Answered() bool {
	if p == nil {
		return false
	}
	for _, v := range []*int{p.Likert.Accuracy, p.Likert.Control, p.Likert.Expression, p.Likert.Alignment} {
		if v == nil || !compare.ValidRating(*v) {
			return false
		}
	}
	return !blank(p.Open.Likes) && !blank(p.Open.Dislikes) && !blank(p.Open.Changes)
}

// IterationEntry is one version of a bullet the participant reacted to.
type IterationEntry struct {
	IterationNumber int       `json:"iteration_number"`
	Text            string    `json:"text"`
	Rationale       string    `json:"rationale"`
	Rating          *int      `json:"rating,omitempty"`
	Feedback        string    `json:"feedback,omitempty"`
	IsFinal         bool      `json:"is_final"`
	Timestamp       time.Time `json:"timestamp"`
}

// BulletState is the refine loop for one statement.
type BulletState struct {
	Index     int              `json:"index"`
	Category  string           `json:"category"`
	Text      string           `json:"text"`
	Rationale string           `json:"rationale"`
	Iteration int              `json:"iteration"`
	Rating    *int             `json:"rating,omitempty"`
	Feedback  string           `json:"feedback,omitempty"`
	Phase     BulletPhase      `json:"phase"`
	Log       []IterationEntry `json:"log,omitempty"`
}

func (b BulletState) lastLogged() int {
	if len(b.Log) == 0 {
		return 0
	}
	return b.Log[len(b.Log)-1].IterationNumber
}

// DraftState is everything collected for one anonymized draft.
type DraftState struct {
	Rating       *int                      `json:"rating,omitempty"`
	Authenticity *int                      `json:"authenticity,omitempty"`
	Likes        string                    `json:"likes,omitempty"`
	Dislikes     string                    `json:"dislikes,omitempty"`
	Chat         []labsessions.ChatMessage `json:"chat,omitempty"`
}

// State is the participant's whole session as the client sees it.
type State struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token,omitempty"`
	HasAccess   bool   `json:"has_access"`
	Screen      Screen `json:"screen,omitempty"`

	SessionID          string                          `json:"session_id,omitempty"`
	Resume             string                          `json:"resume,omitempty"`
	JobDescription     string                          `json:"job_description,omitempty"`
	InitialCoverLetter string                          `json:"initial_cover_letter,omitempty"`
	ReviewIntro        string                          `json:"review_intro,omitempty"`
	ReviewBullets      map[string][]labsessions.Bullet `json:"review_bullets,omitempty"`
	FinalCoverLetter   string                          `json:"final_cover_letter,omitempty"`

	ControlProfile *ProfileState `json:"control_profile,omitempty"`
	AlignedProfile *ProfileState `json:"aligned_profile,omitempty"`

	Bullets       []BulletState `json:"bullets,omitempty"`
	CurrentBullet int           `json:"current_bullet"`

	DraftMapping   *compare.Mapping              `json:"draft_mapping,omitempty"`
	Drafts         map[compare.Label]*DraftState `json:"drafts,omitempty"`
	Comments       string                        `json:"comments,omitempty"`
	Preference     compare.Preference            `json:"preference,omitempty"`
	FinalSubmitted bool                          `json:"final_submitted"`
	Completed      bool                          `json:"completed"`
}

// Authorized reports whether the client holds a validated token.
func (s State) Authorized() bool {
	return s.HasAccess && s.AccessToken != ""
}

// Draft returns the state for a label, or an empty value.
func (s State) Draft(l compare.Label) DraftState {
	if d := s.Drafts[l]; d != nil {
		return *d
	}
	return DraftState{}
}

// Bullet returns the bullet at the current position.
func (s State) Bullet() (BulletState, bool) {
	if s.CurrentBullet < 0 || s.CurrentBullet >= len(s.Bullets) {
		return BulletState{}, false
	}
	return s.Bullets[s.CurrentBullet], true
}

// clone deep-copies through JSON so callers never share maps or slices.
func (s State) clone() State {
	raw, err := json.Marshal(s)
	if err != nil {
		panic("wizard: state not encodable: " + err.Error())
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		panic("wizard: state not decodable: " + err.Error())
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func intPtr(v int) *int {
	return &v
}
