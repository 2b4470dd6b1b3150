package main

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"letterlab-backend/internal/wizard"
)

func newTestModel(t *testing.T, st *wizard.State) *model {
	t.Helper()
	store, err := wizard.OpenStore(context.Background(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if st != nil {
		store.Set(wizard.Replace(*st))
	}
	ctrl := &wizard.Controller{Store: store}
	m := newModel(context.Background(), ctrl)
	m.load()
	return m
}

func typeText(m *model, s string) {
	for _, r := range s {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestTokenScreenWithoutAccess(t *testing.T) {
	m := newTestModel(t, nil)
	if m.screen != wizard.ScreenEnterToken {
		t.Fatalf("screen = %s, want enter-token", m.screen)
	}
	m.applyFocus()
	typeText(m, "tok-1")
	if got := m.token.Value(); got != "tok-1" {
		t.Fatalf("token input = %q", got)
	}
	if !strings.Contains(m.View(), "Welcome") {
		t.Fatalf("view missing title")
	}
}

func TestWelcomeInputsPersist(t *testing.T) {
	m := newTestModel(t, &wizard.State{ClientID: "c1", AccessToken: "tok", HasAccess: true})
	if m.screen != wizard.ScreenWelcome {
		t.Fatalf("screen = %s, want welcome", m.screen)
	}
	m.applyFocus()
	typeText(m, "resume")
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	typeText(m, "job")

	st, _ := m.ctrl.Store.Get()
	if st.Resume != "resume" || st.JobDescription != "job" {
		t.Fatalf("inputs = %q / %q", st.Resume, st.JobDescription)
	}
}

func TestProfileRatingsFromDigits(t *testing.T) {
	m := newTestModel(t, &wizard.State{
		ClientID:       "c1",
		AccessToken:    "tok",
		HasAccess:      true,
		Screen:         wizard.ScreenControlProfile,
		ControlProfile: &wizard.ProfileState{Text: "You are resourceful."},
	})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'5'}})
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'9'}})

	st, _ := m.ctrl.Store.Get()
	l := st.ControlProfile.Likert
	if l.Accuracy == nil || *l.Accuracy != 5 {
		t.Fatalf("accuracy = %v, want 5", l.Accuracy)
	}
	if l.Control != nil {
		t.Fatalf("out-of-scale key must not rate, got %d", *l.Control)
	}
	if st.ControlProfile.Text != "You are resourceful." {
		t.Fatalf("profile text lost: %q", st.ControlProfile.Text)
	}
}

func TestNextBlockedShowsHint(t *testing.T) {
	m := newTestModel(t, &wizard.State{ClientID: "c1", AccessToken: "tok", HasAccess: true})
	if cmd := m.next(); cmd != nil {
		t.Fatalf("next must not start a call on an incomplete screen")
	}
	if m.errText != incompleteHint(wizard.ScreenWelcome) {
		t.Fatalf("errText = %q", m.errText)
	}
}

func TestPtrTreatsZeroAsUnset(t *testing.T) {
	if ptr(0) != nil {
		t.Fatalf("ptr(0) should be nil")
	}
	if v := ptr(4); v == nil || *v != 4 {
		t.Fatalf("ptr(4) = %v", v)
	}
	l := likertOf([4]int{1, 0, 7, 3})
	if l.Control != nil || *l.Expression != 7 {
		t.Fatalf("likertOf = %+v", l)
	}
}
