// Package compare holds the draft-comparison rules shared by the participant
// client and the backend.
package compare

import (
	"math/rand/v2"
)

// Draft is a logical cover letter version.
type Draft string

// Label is an anonymized slot shown to the participant.
type Label string

// Preference summarizes which draft the participant rated higher.
type Preference string

const (
	DraftInitial Draft = "initial"
	DraftFinal   Draft = "final"

	LabelDraft1 Label = "draft1"
	LabelDraft2 Label = "draft2"

	PreferenceControl Preference = "control"
	PreferenceAligned Preference = "aligned"
	PreferenceTie     Preference = "tie"
)

// Labels lists slots in presentation order.
var Labels = []Label{LabelDraft1, LabelDraft2}

// Mapping assigns each label one logical draft.
type Mapping struct {
	Draft1 Draft `json:"draft1"`
	Draft2 Draft `json:"draft2"`
}

// Assigned reports whether the mapping has been set.
func (m Mapping) Assigned() bool {
	return m.Draft1 != "" || m.Draft2 != ""
}

// Valid reports whether the mapping is a permutation of initial and final.
func (m Mapping) Valid() bool {
	return (m.Draft1 == DraftInitial && m.Draft2 == DraftFinal) ||
		(m.Draft1 == DraftFinal && m.Draft2 == DraftInitial)
}

// DraftFor returns the logical draft behind a label.
func (m Mapping) DraftFor(l Label) Draft {
	switch l {
	case LabelDraft1:
		return m.Draft1
	case LabelDraft2:
		return m.Draft2
	}
	return ""
}

// LabelFor returns the label showing a logical draft.
func (m Mapping) LabelFor(d Draft) Label {
	switch d {
	case m.Draft1:
		return LabelDraft1
	case m.Draft2:
		return LabelDraft2
	}
	return ""
}

// AssignDraftMapping flips one fair coin. A nil coin uses math/rand/v2.
func AssignDraftMapping(coin func() bool) Mapping {
	if coin == nil {
		coin = func() bool { return rand.IntN(2) == 0 }
	}
	if coin() {
		return Mapping{Draft1: DraftInitial, Draft2: DraftFinal}
	}
	return Mapping{Draft1: DraftFinal, Draft2: DraftInitial}
}

// Ratings holds the 1-7 rating per label; nil means unrated.
type Ratings struct {
	Draft1 *int `json:"draft1"`
	Draft2 *int `json:"draft2"`
}

// For returns the rating for a label.
func (r Ratings) For(l Label) *int {
	switch l {
	case LabelDraft1:
		return r.Draft1
	case LabelDraft2:
		return r.Draft2
	}
	return nil
}

// DerivePreference compares the rating of the initial draft with the final
// draft. ok is false when either rating is missing or the mapping is invalid.
func DerivePreference(ratings Ratings, m Mapping) (Preference, bool) {
	if !m.Valid() {
		return "", false
	}
	initial := ratings.For(m.LabelFor(DraftInitial))
	final := ratings.For(m.LabelFor(DraftFinal))
	if initial == nil || final == nil {
		return "", false
	}
	switch {
	case *initial > *final:
		return PreferenceControl, true
	case *initial < *final:
		return PreferenceAligned, true
	default:
		return PreferenceTie, true
	}
}

// ValidRating reports whether v is on the 1-7 scale.
func ValidRating(v int) bool {
	return v >= 1 && v <= 7
}
