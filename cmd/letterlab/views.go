package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/wizard"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true)

	focusLabelStyle = labelStyle.
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	pickStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("24"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))
)

var titles = map[wizard.Screen]string{
	wizard.ScreenEnterToken:        "Welcome",
	wizard.ScreenWelcome:           "Your resume and the job",
	wizard.ScreenControlProfile:    "Your profile",
	wizard.ScreenBulletRefinement:  "Refine your statements",
	wizard.ScreenAlignedProfile:    "Your updated profile",
	wizard.ScreenProfileComparison: "Compare the profiles",
	wizard.ScreenComparisonIntro:   "Two cover letters",
	wizard.ScreenDraft1:            "Draft 1",
	wizard.ScreenDraft2:            "Draft 2",
	wizard.ScreenFinalSurvey:       "Final thoughts",
	wizard.ScreenDone:              "Thank you",
}

var hints = map[wizard.Screen]string{
	wizard.ScreenEnterToken:       "enter validate · ctrl+c quit",
	wizard.ScreenBulletRefinement: "1-7 rate · ctrl+r regenerate · esc cancel · ctrl+a accept · ctrl+b back",
	wizard.ScreenFinalSurvey:      "ctrl+s submit · ctrl+b back · ctrl+c quit",
	wizard.ScreenDone:             "q quit",
}

func (m *model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("LetterLab · "+titles[m.screen]),
		stepStyle.Render(m.step()),
	)
	form := m.renderFields()

	body := m.body
	h := m.height - lipgloss.Height(header) - lipgloss.Height(form) - 3
	if h < 3 {
		h = 3
	}
	body.Height = h

	return lipgloss.JoinVertical(lipgloss.Left, header, body.View(), form, m.statusLine())
}

func (m *model) step() string {
	for i, sc := range wizard.Screens {
		if sc == m.screen && i > 0 && sc != wizard.ScreenDone {
			return fmt.Sprintf("step %d of %d", i, len(wizard.Screens)-2)
		}
	}
	return ""
}

func (m *model) statusLine() string {
	var parts []string
	if m.busy != "" {
		parts = append(parts, m.spinner.View()+" "+busyText(m.busy))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	hint, ok := hints[m.screen]
	if !ok {
		hint = "tab next field · ctrl+n continue · ctrl+b back · ctrl+c quit"
	}
	line := statusBarStyle.Width(max(m.width, 20)).Render(strings.Join(append(parts, hint), "  "))
	if m.errText == "" {
		return line
	}
	return errorStyle.Render(m.errText) + "\n" + line
}

func busyText(op string) string {
	switch op {
	case "validate":
		return "Checking your token..."
	case "regenerate":
		return "Writing a new version (esc to cancel)..."
	case "chat":
		return "Waiting for a reply..."
	case "submit":
		return "Submitting..."
	}
	return "Working..."
}

func (m *model) renderFields() string {
	var b strings.Builder
	for i, f := range m.fields() {
		style := labelStyle
		marker := "  "
		if i == m.focus {
			style = focusLabelStyle
			marker = "› "
		}
		switch f.kind {
		case fieldRating:
			b.WriteString(marker + style.Render(f.label) + "  " + renderScale(*f.rating) + "\n")
		case fieldArea:
			b.WriteString(marker + style.Render(f.label) + "\n" + f.area.View() + "\n")
		case fieldLine:
			b.WriteString(marker + style.Render(f.label) + "\n" + f.line.View() + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderScale(v int) string {
	cells := make([]string, 7)
	for i := range cells {
		cell := fmt.Sprintf(" %d ", i+1)
		if v == i+1 {
			cells[i] = pickStyle.Render(cell)
		} else {
			cells[i] = dimStyle.Render(cell)
		}
	}
	return strings.Join(cells, "")
}

// refreshBody renders the read-only part of the current screen into the
// scrollable body.
func (m *model) refreshBody() {
	st, _ := m.ctrl.Store.Get()
	width := max(m.body.Width, 20)
	wrap := lipgloss.NewStyle().Width(width)

	var content string
	switch m.screen {
	case wizard.ScreenEnterToken:
		content = "Enter the access token you received to begin. Each token can be used for one session."
	case wizard.ScreenWelcome:
		content = "Paste your resume and the job description you are applying for. " +
			"Press ctrl+n and we will write a first cover letter and a short profile of you."
		if st.InitialCoverLetter != "" {
			content += "\n\n" + dimStyle.Render("Your first draft is ready. Inputs are locked for this session.")
		}
	case wizard.ScreenControlProfile, wizard.ScreenAlignedProfile:
		p := profileOf(st, m.screen)
		if p == nil || p.Text == "" {
			content = dimStyle.Render("Your profile is being written. Press ctrl+r if this takes too long.")
		} else {
			content = "Read the profile below, then rate it and answer the questions.\n\n" + cardStyle.Width(width-2).Render(p.Text)
		}
	case wizard.ScreenBulletRefinement:
		content = m.bulletCard(st, width)
	case wizard.ScreenProfileComparison:
		content = m.profilePair(st, width)
	case wizard.ScreenComparisonIntro:
		content = "You will now read two cover letters, Draft 1 and Draft 2. " +
			"Rate each one, tell us what works and what does not, and ask the assistant about anything that looks wrong."
		if st.FinalCoverLetter == "" {
			content += "\n\n" + dimStyle.Render("Preparing the drafts...")
		}
	case wizard.ScreenDraft1, wizard.ScreenDraft2:
		content = m.draftView(st, width)
	case wizard.ScreenFinalSurvey:
		content = "Anything else you want to tell us about the two drafts? Press ctrl+s to submit your answers. " +
			"After submitting you cannot change them."
	case wizard.ScreenDone:
		content = "Your responses are recorded. Thank you for taking part."
		if n, err := m.ctrl.Outbox.Pending(m.ctx); err == nil && n > 0 {
			content += "\n\n" + dimStyle.Render(fmt.Sprintf("%d responses are still uploading. Keep this window open or start letterlab again later.", n))
		}
	}
	m.body.SetContent(wrap.Render(content))
}

func (m *model) bulletCard(st wizard.State, width int) string {
	b, ok := st.Bullet()
	if !ok {
		return dimStyle.Render("Your statements are being written. Press ctrl+r if this takes too long.")
	}
	header := fmt.Sprintf("Statement %d of %d · %s · version %d", st.CurrentBullet+1, len(st.Bullets), b.Category, b.Iteration)
	card := cardStyle.Width(width - 2).Render(b.Text + "\n\n" + dimStyle.Render("Why: "+b.Rationale))
	out := labelStyle.Render(header) + "\n" + card
	if len(b.Log) > 0 {
		out += "\n" + dimStyle.Render(fmt.Sprintf("%d earlier versions", len(b.Log)))
	}
	return out
}

func (m *model) profilePair(st wizard.State, width int) string {
	col := (width - 4) / 2
	if col < 10 {
		col = 10
	}
	text := func(p *wizard.ProfileState) string {
		if p == nil {
			return ""
		}
		return p.Text
	}
	left := cardStyle.Width(col).Render(labelStyle.Render("First profile") + "\n\n" + text(st.ControlProfile))
	right := cardStyle.Width(col).Render(labelStyle.Render("Updated profile") + "\n\n" + text(st.AlignedProfile))
	return "Here are both profiles side by side. Press ctrl+n when you are ready.\n\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m *model) draftView(st wizard.State, width int) string {
	l := labelOf(m.screen)
	var b strings.Builder
	b.WriteString(cardStyle.Width(width - 2).Render(wizard.DraftText(st, l)))
	b.WriteString("\n\n")
	for _, msg := range wizard.ChatTranscript(st, l) {
		who := "Assistant"
		if msg.Role == "user" {
			who = "You"
		}
		b.WriteString(labelStyle.Render(who+": ") + msg.Content + "\n")
	}
	if l == compare.LabelDraft2 {
		b.WriteString("\n" + dimStyle.Render("ctrl+b returns to Draft 1."))
	}
	return b.String()
}
