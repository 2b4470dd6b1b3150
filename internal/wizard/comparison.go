package wizard

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labclient"
	"letterlab-backend/internal/labsessions"
)

// Chat panel texts.
const (
	ChatOpener  = "Is there any content in this letter you feel isn't accurate?"
	ChatFailure = "Sorry, something went wrong."
)

// DraftInput is the participant's feedback for one draft label.
type DraftInput struct {
	Rating       *int
	Authenticity *int
	Likes        string
	Dislikes     string
}

// EnterComparison fixes the draft mapping on first entry and produces the
// final letter the participant compares against the initial one.
func (c *Controller) EnterComparison(ctx context.Context) error {
	c.EnsureMapping()
	return c.run(ScreenComparisonIntro, "final-letter", func() error {
		st, _ := c.Store.Get()
		if st.FinalCoverLetter != "" {
			return nil
		}
		letter, err := c.API.CoverLetter(ctx, finalLetterInput(st), st.JobDescription, c.idempotency(st, "final-letter"))
		if err != nil {
			return errors.Wrap(err, "generate final letter")
		}
		c.Store.Set(func(st State) State {
			st.FinalCoverLetter = letter
			return st
		})
		return nil
	})
}

// finalLetterInput is the resume plus the statements the participant accepted.
func finalLetterInput(st State) string {
	var b strings.Builder
	b.WriteString(st.Resume)
	if st.AlignedProfile != nil && st.AlignedProfile.Text != "" {
		b.WriteString("\n\nProfile:\n")
		b.WriteString(st.AlignedProfile.Text)
	}
	first := true
	for _, bullet := range st.Bullets {
		if bullet.Phase != PhaseAccepted {
			continue
		}
		if first {
			b.WriteString("\n\nSelf-efficacy statements:\n")
			first = false
		}
		b.WriteString("- ")
		b.WriteString(bullet.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// EnsureMapping assigns the draft mapping if none exists and returns the
// mapping in effect. Later calls always return the first assignment.
func (c *Controller) EnsureMapping() compare.Mapping {
	st := c.Store.Set(func(st State) State {
		if st.DraftMapping == nil || !st.DraftMapping.Valid() {
			m := compare.AssignDraftMapping(c.Coin)
			st.DraftMapping = &m
		}
		return st
	})
	return *st.DraftMapping
}

// DraftText returns the letter shown under a label.
func DraftText(st State, l compare.Label) string {
	if st.DraftMapping == nil {
		return ""
	}
	switch st.DraftMapping.DraftFor(l) {
	case compare.DraftInitial:
		return st.InitialCoverLetter
	case compare.DraftFinal:
		return st.FinalCoverLetter
	}
	return ""
}

// SetDraftFeedback records the feedback for one label.
func (c *Controller) SetDraftFeedback(l compare.Label, in DraftInput) error {
	if l != compare.LabelDraft1 && l != compare.LabelDraft2 {
		return errors.Errorf("unknown draft label %q", l)
	}
	for _, v := range []*int{in.Rating, in.Authenticity} {
		if v != nil && !compare.ValidRating(*v) {
			return errors.Errorf("rating %d is outside 1-7", *v)
		}
	}
	st, _ := c.Store.Get()
	if st.FinalSubmitted {
		return ErrFinalized
	}
	c.Store.Set(func(st State) State {
		d := draftOf(&st, l)
		d.Rating = in.Rating
		d.Authenticity = in.Authenticity
		d.Likes = in.Likes
		d.Dislikes = in.Dislikes
		return st
	})
	return nil
}

func (c *Controller) draftComplete(st State, l compare.Label) bool {
	d := st.Draft(l)
	if d.Rating == nil || !compare.ValidRating(*d.Rating) || blank(d.Likes) || blank(d.Dislikes) {
		return false
	}
	if c.RequireSecondRating && (d.Authenticity == nil || !compare.ValidRating(*d.Authenticity)) {
		return false
	}
	return true
}

// ChatTranscript returns the chat for a label, starting with the opener.
func ChatTranscript(st State, l compare.Label) []labsessions.ChatMessage {
	if chat := st.Draft(l).Chat; len(chat) > 0 {
		return chat
	}
	return []labsessions.ChatMessage{{Role: "assistant", Content: ChatOpener}}
}

// SendChat posts one participant turn. A failed turn is recorded as the
// failure reply; only a rejected token is returned as an error.
func (c *Controller) SendChat(ctx context.Context, l compare.Label, text string) error {
	if blank(text) {
		return nil
	}
	st, _ := c.Store.Get()
	messages := append(ChatTranscript(st, l), labsessions.ChatMessage{Role: "user", Content: text})
	c.setChat(l, messages)

	reply, err := c.API.Chat(ctx, labclient.ChatRequest{
		Messages:  messages,
		Draft:     DraftText(st, l),
		SessionID: st.SessionID,
		Label:     string(l),
	})
	if err != nil {
		if errors.Is(err, labclient.ErrTokenInvalidated) {
			return c.fail(err)
		}
		reply = ChatFailure
	}
	c.setChat(l, append(messages, labsessions.ChatMessage{Role: "assistant", Content: reply}))
	return nil
}

func (c *Controller) setChat(l compare.Label, messages []labsessions.ChatMessage) {
	c.Store.Set(func(st State) State {
		draftOf(&st, l).Chat = append([]labsessions.ChatMessage(nil), messages...)
		return st
	})
}

// SetComments records the free-text comment of the final survey.
func (c *Controller) SetComments(text string) {
	c.Store.Set(func(st State) State {
		if !st.FinalSubmitted {
			st.Comments = text
		}
		return st
	})
}

// Submit finishes the comparison. The aggregate feedback and the completion
// mark go through the outbox; the screens lock and the wizard moves to done
// whether or not the immediate send succeeds.
func (c *Controller) Submit(ctx context.Context) error {
	st, _ := c.Store.Get()
	if st.FinalSubmitted {
		return nil
	}
	if c.resolve(st) != ScreenFinalSurvey {
		return ErrIncomplete
	}
	if st.DraftMapping == nil || !c.draftComplete(st, compare.LabelDraft1) || !c.draftComplete(st, compare.LabelDraft2) {
		return ErrIncomplete
	}

	ratings := compare.Ratings{
		Draft1: st.Draft(compare.LabelDraft1).Rating,
		Draft2: st.Draft(compare.LabelDraft2).Rating,
	}
	preference, _ := compare.DerivePreference(ratings, *st.DraftMapping)
	feedback := make(map[string]labsessions.DraftFeedback, len(compare.Labels))
	for _, l := range compare.Labels {
		d := st.Draft(l)
		feedback[string(l)] = labsessions.DraftFeedback{
			Likes:        d.Likes,
			Dislikes:     d.Dislikes,
			Authenticity: d.Authenticity,
			Chat:         d.Chat,
		}
	}
	payload := labclient.FinalFeedback{
		SessionID:      st.SessionID,
		DraftMapping:   *st.DraftMapping,
		Ratings:        ratings,
		Feedback:       feedback,
		Preference:     preference,
		Comments:       st.Comments,
		Resume:         st.Resume,
		JobDescription: st.JobDescription,
	}
	if err := c.Outbox.Add(ctx, KindFinalFeedback, st.ClientID+":final-feedback:"+st.SessionID, payload); err != nil {
		return err
	}
	if err := c.Outbox.Add(ctx, KindMarkCompleted, st.ClientID+":completed:"+st.SessionID,
		map[string]string{"session_id": st.SessionID}); err != nil {
		return err
	}

	c.Store.Set(func(st State) State {
		st.Preference = preference
		st.FinalSubmitted = true
		st.Completed = true
		st.Screen = ScreenDone
		return st
	})
	return c.flushOutbox(ctx)
}

func draftOf(st *State, l compare.Label) *DraftState {
	if st.Drafts == nil {
		st.Drafts = map[compare.Label]*DraftState{}
	}
	d := st.Drafts[l]
	if d == nil {
		d = &DraftState{}
		st.Drafts[l] = d
	}
	return d
}
