package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/wizard"
)

const drainInterval = 30 * time.Second

// callDoneMsg is sent when a controller call started by the model returns.
type callDoneMsg struct {
	op  string
	err error
}

type drainTickMsg struct{}

type outboxSyncedMsg struct{ err error }

type fieldKind int

const (
	fieldArea fieldKind = iota
	fieldLine
	fieldRating
)

// field is one focusable input of the current screen.
type field struct {
	kind   fieldKind
	label  string
	area   *textarea.Model
	line   *textinput.Model
	rating *int
}

var likertLabels = [4]string{
	"The profile describes me accurately",
	"I feel in control of how I am presented",
	"It expresses who I am",
	"It fits the job I am applying for",
}

type model struct {
	ctx  context.Context
	ctrl *wizard.Controller

	width  int
	height int

	// screen and bulletKey identify what the form was last loaded for.
	screen    wizard.Screen
	bulletKey string
	focus     int

	spinner spinner.Model
	body    viewport.Model

	token          textinput.Model
	resume         textarea.Model
	jobDesc        textarea.Model
	likert         [4]int
	open           [3]textarea.Model
	bulletRating   int
	bulletFeedback textarea.Model
	draftRating    int
	draftAuth      int
	likes          textarea.Model
	dislikes       textarea.Model
	chat           textinput.Model
	comments       textarea.Model

	busy        string
	status      string
	errText     string
	cancelRegen context.CancelFunc
}

func newModel(ctx context.Context, ctrl *wizard.Controller) *model {
	m := &model{
		ctx:     ctx,
		ctrl:    ctrl,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		body:    viewport.New(80, 12),
	}
	m.token = textinput.New()
	m.token.Placeholder = "access token"
	m.token.EchoMode = textinput.EchoPassword
	m.chat = textinput.New()
	m.chat.Placeholder = "ask about this letter, enter to send"

	m.resume = newArea("Paste your resume")
	m.jobDesc = newArea("Paste the job description")
	m.open[0] = newArea("What did you like?")
	m.open[1] = newArea("What did you dislike?")
	m.open[2] = newArea("What would you change?")
	m.bulletFeedback = newArea("What should change in this statement?")
	m.likes = newArea("What did you like about this letter?")
	m.dislikes = newArea("What did you dislike?")
	m.comments = newArea("Anything else you want to tell us")
	return m
}

func newArea(placeholder string) textarea.Model {
	a := textarea.New()
	a.Placeholder = placeholder
	a.ShowLineNumbers = false
	a.CharLimit = 0
	a.MaxHeight = 0
	a.SetHeight(3)
	return a
}

func (m *model) Init() tea.Cmd {
	m.load()
	return tea.Batch(
		m.spinner.Tick,
		m.applyFocus(),
		m.call("enter", m.ctrl.Enter),
		m.syncOutbox(),
		drainTick(),
	)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case callDoneMsg:
		m.busy = ""
		if msg.op == "regenerate" && m.cancelRegen != nil {
			m.cancelRegen()
			m.cancelRegen = nil
		}
		m.report(msg.err)
		m.load()
		return m, m.applyFocus()

	case drainTickMsg:
		return m, tea.Batch(m.syncOutbox(), drainTick())

	case outboxSyncedMsg:
		if errors.Is(msg.err, wizard.ErrUnauthorized) {
			m.report(msg.err)
			m.load()
			return m, m.applyFocus()
		}
		m.refreshBody()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, m.updateFocused(msg)
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		if m.cancelRegen != nil {
			m.cancelRegen()
		}
		return tea.Quit
	case "esc":
		if m.cancelRegen != nil {
			m.cancelRegen()
			m.status = "Cancelling..."
		}
		return nil
	case "tab", "shift+tab":
		n := len(m.fields())
		if n == 0 {
			return nil
		}
		if msg.String() == "tab" {
			m.focus = (m.focus + 1) % n
		} else {
			m.focus = (m.focus + n - 1) % n
		}
		return m.applyFocus()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.body, cmd = m.body.Update(msg)
		return cmd
	case "ctrl+n":
		return m.next()
	case "ctrl+b":
		return m.back()
	case "ctrl+r":
		return m.retry()
	}

	switch m.screen {
	case wizard.ScreenEnterToken:
		if msg.Type == tea.KeyEnter {
			return m.validate()
		}
	case wizard.ScreenBulletRefinement:
		if msg.String() == "ctrl+a" {
			return m.accept()
		}
	case wizard.ScreenDraft1, wizard.ScreenDraft2:
		if f, ok := m.focused(); ok && f.kind == fieldLine && msg.Type == tea.KeyEnter {
			return m.sendChat()
		}
	case wizard.ScreenFinalSurvey:
		if msg.String() == "ctrl+s" {
			return m.submit()
		}
	case wizard.ScreenDone:
		if msg.String() == "q" {
			return tea.Quit
		}
	}

	if f, ok := m.focused(); ok && f.kind == fieldRating {
		if k := msg.String(); len(k) == 1 && k[0] >= '1' && k[0] <= '7' {
			*f.rating = int(k[0] - '0')
			m.commit()
		}
		return nil
	}
	cmd := m.updateFocused(msg)
	if m.screen != wizard.ScreenEnterToken {
		m.commit()
	}
	return cmd
}

// call runs fn off the update loop and reports back with a callDoneMsg.
func (m *model) call(op string, fn func(context.Context) error) tea.Cmd {
	m.busy = op
	m.errText = ""
	m.status = ""
	ctx := m.ctx
	return func() tea.Msg {
		return callDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m *model) validate() tea.Cmd {
	if m.busy != "" {
		return nil
	}
	token := strings.TrimSpace(m.token.Value())
	if token == "" {
		m.errText = "Enter the access token you were given."
		return nil
	}
	return m.call("validate", func(ctx context.Context) error {
		return m.ctrl.ValidateToken(ctx, token)
	})
}

func (m *model) next() tea.Cmd {
	if m.busy != "" || m.screen == wizard.ScreenEnterToken {
		return nil
	}
	m.commit()
	if !m.ctrl.CanAdvance() {
		m.errText = incompleteHint(m.screen)
		return nil
	}
	return m.call("next", func(ctx context.Context) error {
		_, err := m.ctrl.Next(ctx)
		return err
	})
}

func (m *model) back() tea.Cmd {
	if m.busy != "" {
		return nil
	}
	var err error
	if m.screen == wizard.ScreenBulletRefinement {
		_, err = m.ctrl.BackBullet()
	} else {
		_, err = m.ctrl.Back()
	}
	if errors.Is(err, wizard.ErrIncomplete) {
		err = nil
	}
	m.report(err)
	m.load()
	return m.applyFocus()
}

// retry regenerates the current statement on the bullet screen and re-runs
// the screen's mount call everywhere else.
func (m *model) retry() tea.Cmd {
	if m.busy != "" {
		return nil
	}
	st, _ := m.ctrl.Store.Get()
	if m.screen == wizard.ScreenBulletRefinement && len(st.Bullets) > 0 {
		return m.regenerate()
	}
	return m.call("enter", m.ctrl.Enter)
}

func (m *model) regenerate() tea.Cmd {
	m.commit()
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelRegen = cancel
	m.busy = "regenerate"
	m.errText = ""
	m.status = ""
	return func() tea.Msg {
		return callDoneMsg{op: "regenerate", err: m.ctrl.Regenerate(ctx)}
	}
}

func (m *model) accept() tea.Cmd {
	if m.busy != "" {
		return nil
	}
	m.commit()
	return m.call("accept", func(ctx context.Context) error {
		_, err := m.ctrl.Accept(ctx)
		return err
	})
}

func (m *model) sendChat() tea.Cmd {
	text := strings.TrimSpace(m.chat.Value())
	if m.busy != "" || text == "" {
		return nil
	}
	m.chat.SetValue("")
	label := labelOf(m.screen)
	return m.call("chat", func(ctx context.Context) error {
		return m.ctrl.SendChat(ctx, label, text)
	})
}

func (m *model) submit() tea.Cmd {
	if m.busy != "" {
		return nil
	}
	m.commit()
	return m.call("submit", m.ctrl.Submit)
}

func (m *model) syncOutbox() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return outboxSyncedMsg{err: m.ctrl.SyncOutbox(ctx)}
	}
}

func drainTick() tea.Cmd {
	return tea.Tick(drainInterval, func(time.Time) tea.Msg {
		return drainTickMsg{}
	})
}

func (m *model) report(err error) {
	switch {
	case err == nil:
		m.errText = ""
	case errors.Is(err, context.Canceled):
		m.errText = ""
		m.status = "Cancelled."
	case errors.Is(err, wizard.ErrUnauthorized):
		m.errText = err.Error()
		m.token.SetValue("")
	case errors.Is(err, wizard.ErrIncomplete):
		m.errText = incompleteHint(m.screen)
	default:
		m.errText = err.Error()
	}
}

// load reloads the form from the store when the screen or the shown
// statement changed, and always refreshes the read-only body.
func (m *model) load() {
	st, _ := m.ctrl.Store.Get()
	screen := m.ctrl.Current()
	key := ""
	if screen == wizard.ScreenBulletRefinement {
		if b, ok := st.Bullet(); ok {
			key = fmt.Sprintf("%d:%d", b.Index, b.Iteration)
		}
	}
	if screen != m.screen || key != m.bulletKey {
		m.screen, m.bulletKey = screen, key
		m.focus = 0
		m.fill(st)
	}
	m.refreshBody()
}

func (m *model) fill(st wizard.State) {
	switch m.screen {
	case wizard.ScreenWelcome:
		m.resume.SetValue(st.Resume)
		m.jobDesc.SetValue(st.JobDescription)
	case wizard.ScreenControlProfile, wizard.ScreenAlignedProfile:
		p := profileOf(st, m.screen)
		if p == nil {
			p = &wizard.ProfileState{}
		}
		for i, v := range []*int{p.Likert.Accuracy, p.Likert.Control, p.Likert.Expression, p.Likert.Alignment} {
			m.likert[i] = deref(v)
		}
		m.open[0].SetValue(p.Open.Likes)
		m.open[1].SetValue(p.Open.Dislikes)
		m.open[2].SetValue(p.Open.Changes)
	case wizard.ScreenBulletRefinement:
		b, _ := st.Bullet()
		m.bulletRating = deref(b.Rating)
		m.bulletFeedback.SetValue(b.Feedback)
	case wizard.ScreenDraft1, wizard.ScreenDraft2:
		d := st.Draft(labelOf(m.screen))
		m.draftRating = deref(d.Rating)
		m.draftAuth = deref(d.Authenticity)
		m.likes.SetValue(d.Likes)
		m.dislikes.SetValue(d.Dislikes)
		m.chat.SetValue("")
	case wizard.ScreenFinalSurvey:
		m.comments.SetValue(st.Comments)
	}
}

// commit writes the form of the current screen through the controller.
func (m *model) commit() {
	var err error
	switch m.screen {
	case wizard.ScreenWelcome:
		err = m.ctrl.SetInputs(m.resume.Value(), m.jobDesc.Value())
	case wizard.ScreenControlProfile, wizard.ScreenAlignedProfile:
		phase := labsessions.PhaseControl
		if m.screen == wizard.ScreenAlignedProfile {
			phase = labsessions.PhaseAligned
		}
		err = m.ctrl.SetProfileResponses(phase, likertOf(m.likert), labsessions.OpenResponses{
			Likes:    m.open[0].Value(),
			Dislikes: m.open[1].Value(),
			Changes:  m.open[2].Value(),
		})
	case wizard.ScreenBulletRefinement:
		if m.bulletRating > 0 && m.busy != "regenerate" {
			err = m.ctrl.RateBullet(m.bulletRating, m.bulletFeedback.Value())
		}
	case wizard.ScreenDraft1, wizard.ScreenDraft2:
		err = m.ctrl.SetDraftFeedback(labelOf(m.screen), wizard.DraftInput{
			Rating:       ptr(m.draftRating),
			Authenticity: ptr(m.draftAuth),
			Likes:        m.likes.Value(),
			Dislikes:     m.dislikes.Value(),
		})
	case wizard.ScreenFinalSurvey:
		m.ctrl.SetComments(m.comments.Value())
	}
	if err != nil {
		m.errText = err.Error()
	}
}

func (m *model) fields() []field {
	switch m.screen {
	case wizard.ScreenEnterToken:
		return []field{{kind: fieldLine, label: "Access token", line: &m.token}}
	case wizard.ScreenWelcome:
		return []field{
			{kind: fieldArea, label: "Resume", area: &m.resume},
			{kind: fieldArea, label: "Job description", area: &m.jobDesc},
		}
	case wizard.ScreenControlProfile, wizard.ScreenAlignedProfile:
		out := make([]field, 0, 7)
		for i := range m.likert {
			out = append(out, field{kind: fieldRating, label: likertLabels[i], rating: &m.likert[i]})
		}
		out = append(out,
			field{kind: fieldArea, label: "Likes", area: &m.open[0]},
			field{kind: fieldArea, label: "Dislikes", area: &m.open[1]},
			field{kind: fieldArea, label: "Changes", area: &m.open[2]},
		)
		return out
	case wizard.ScreenBulletRefinement:
		return []field{
			{kind: fieldRating, label: "How well does this describe you?", rating: &m.bulletRating},
			{kind: fieldArea, label: "Feedback", area: &m.bulletFeedback},
		}
	case wizard.ScreenDraft1, wizard.ScreenDraft2:
		return []field{
			{kind: fieldRating, label: "Overall rating", rating: &m.draftRating},
			{kind: fieldRating, label: "It sounds like me", rating: &m.draftAuth},
			{kind: fieldArea, label: "Likes", area: &m.likes},
			{kind: fieldArea, label: "Dislikes", area: &m.dislikes},
			{kind: fieldLine, label: "Chat", line: &m.chat},
		}
	case wizard.ScreenFinalSurvey:
		return []field{{kind: fieldArea, label: "Comments", area: &m.comments}}
	}
	return nil
}

func (m *model) focused() (field, bool) {
	fs := m.fields()
	if m.focus < 0 || m.focus >= len(fs) {
		return field{}, false
	}
	return fs[m.focus], true
}

func (m *model) applyFocus() tea.Cmd {
	var cmds []tea.Cmd
	for i, f := range m.fields() {
		switch {
		case f.area != nil && i == m.focus:
			cmds = append(cmds, f.area.Focus())
		case f.area != nil:
			f.area.Blur()
		case f.line != nil && i == m.focus:
			cmds = append(cmds, f.line.Focus())
		case f.line != nil:
			f.line.Blur()
		}
	}
	return tea.Batch(cmds...)
}

func (m *model) updateFocused(msg tea.Msg) tea.Cmd {
	f, ok := m.focused()
	if !ok {
		return nil
	}
	var cmd tea.Cmd
	switch {
	case f.area != nil:
		*f.area, cmd = f.area.Update(msg)
	case f.line != nil:
		*f.line, cmd = f.line.Update(msg)
	}
	return cmd
}

func (m *model) resize() {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	m.token.Width = w
	m.chat.Width = w
	for _, a := range []*textarea.Model{&m.resume, &m.jobDesc, &m.open[0], &m.open[1], &m.open[2], &m.bulletFeedback, &m.likes, &m.dislikes, &m.comments} {
		a.SetWidth(w)
	}
	m.body.Width = w
	m.refreshBody()
}

func profileOf(st wizard.State, screen wizard.Screen) *wizard.ProfileState {
	if screen == wizard.ScreenAlignedProfile {
		return st.AlignedProfile
	}
	return st.ControlProfile
}

func labelOf(screen wizard.Screen) compare.Label {
	if screen == wizard.ScreenDraft2 {
		return compare.LabelDraft2
	}
	return compare.LabelDraft1
}

func likertOf(v [4]int) labsessions.Likert {
	return labsessions.Likert{
		Accuracy:   ptr(v[0]),
		Control:    ptr(v[1]),
		Expression: ptr(v[2]),
		Alignment:  ptr(v[3]),
	}
}

// ptr maps the unset rating 0 to nil.
func ptr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func incompleteHint(screen wizard.Screen) string {
	switch screen {
	case wizard.ScreenWelcome:
		return "Add your resume and the job description to continue."
	case wizard.ScreenControlProfile, wizard.ScreenAlignedProfile:
		return "Rate all four statements and answer the three questions to continue."
	case wizard.ScreenBulletRefinement:
		return "Accept each statement (ctrl+a) to continue."
	case wizard.ScreenComparisonIntro:
		return "The drafts are still being prepared. Press ctrl+r to retry."
	case wizard.ScreenDraft1, wizard.ScreenDraft2:
		return "Rate the draft and fill in likes and dislikes to continue."
	case wizard.ScreenFinalSurvey:
		return "Press ctrl+s to submit."
	}
	return "This step is not complete yet."
}
