package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/lipgloss"
)

const (
	inputMaxHeight   = 8
	inputPadding     = 1
	inputPlaceholder = "Message (/help for commands)"
)

func newInputModel() textarea.Model {
	input := textarea.New()
	input.Placeholder = inputPlaceholder
	input.Prompt = "› "
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(1)
	input.KeyMap.InsertNewline.SetEnabled(false)
	applyInputStyles(&input, textColor, blurText)
	input.Focus()
	return input
}

func applyInputStyles(input *textarea.Model, text, blur lipgloss.Color) {
	input.FocusedStyle.Base = lipgloss.NewStyle().Foreground(text).Background(inputBg)
	input.FocusedStyle.Text = lipgloss.NewStyle().Foreground(text).Background(inputBg)
	input.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(caretColor).Background(inputBg)
	input.FocusedStyle.CursorLine = lipgloss.NewStyle().Background(inputBg)
	input.BlurredStyle.Base = lipgloss.NewStyle().Foreground(blur).Background(inputBg)
	input.BlurredStyle.Text = lipgloss.NewStyle().Foreground(blur).Background(inputBg)
	input.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(caretColor).Background(inputBg)
	input.BlurredStyle.CursorLine = lipgloss.NewStyle().Background(inputBg)
}

func (m *Model) insertInputText(text string) {
	if text == "" {
		return
	}
	m.input.InsertString(text)
	m.resize()
}

// restoreDraft puts a failed send back into the input, unless the user has
// already started typing something new.
func (m *Model) restoreDraft(v *view) {
	if v.state.DraftSeq == v.lastDraftSeq {
		return
	}
	v.lastDraftSeq = v.state.DraftSeq
	if v != m.active() || strings.TrimSpace(m.input.Value()) != "" {
		return
	}
	m.input.SetValue(v.state.Draft.Content)
	m.input.CursorEnd()
	m.pendingFiles = m.pendingFiles[:0]
	for _, file := range v.state.Draft.Files {
		if file.Path != "" {
			m.pendingFiles = append(m.pendingFiles, file.Path)
		}
	}
	m.resize()
}

func normalizeNewlines(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(value, "\r", "\n")
}
