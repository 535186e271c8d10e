package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/spigell/recruit-chat/internal/chat"
)

var styles = struct {
	user      lipgloss.Style
	assistant lipgloss.Style
	context   lipgloss.Style
	err       lipgloss.Style
	muted     lipgloss.Style
	accent    lipgloss.Style
}{
	user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
	assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4FC3F7")),
	context:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#9E9E9E")),
	err:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E57373")),
	muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
	accent:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB74D")),
}

// view prints a conversation to a terminal. It is used as a chat observer, so
// it never calls back into the chat.
type view struct {
	out      io.Writer
	renderer *glamour.TermRenderer

	mu sync.Mutex
	// live is set once the user types; their own turns are then not echoed.
	live    bool
	printed int
	state   chat.State
	lastErr error
}

func newView(out io.Writer, width int) *view {
	if width <= 0 {
		width = 100
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		renderer = nil
	}

	return &view{out: out, renderer: renderer}
}

func (v *view) setLive(live bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.live = live
}

func (v *view) observe(u chat.Update) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(u.Messages) < v.printed {
		// The list only shrinks on a reset or when a failed reply is dropped.
		if len(u.Messages) == 0 && u.State == chat.StateIdle {
			fmt.Fprintln(v.out, styles.muted.Render("── new conversation ──"))
		}
		v.printed = len(u.Messages)
	}

	complete := len(u.Messages)
	if u.State == chat.StateStreaming && complete > 0 {
		// The last message is still growing.
		complete--
	}

	for ; v.printed < complete; v.printed++ {
		v.printMessage(u.Messages[v.printed])
	}

	switch {
	case u.State == chat.StateSending && v.state != chat.StateSending:
		fmt.Fprintln(v.out, styles.muted.Render("…"))
	case u.State == chat.StateError && u.Err != nil && !errors.Is(u.Err, v.lastErr):
		fmt.Fprintln(v.out, styles.err.Render("error:"), u.Err.Error(), styles.muted.Render("(send again to retry)"))
	}

	v.state = u.State
	v.lastErr = u.Err
}

func (v *view) printMessage(m chat.Message) {
	switch {
	case m.Role == chat.RoleUser && (chat.IsScopingMessage(m.Content) || m.Content == chat.ClearingMessage):
		fmt.Fprintln(v.out, styles.context.Render("context › "+m.Content))
	case m.Role == chat.RoleUser:
		if v.live {
			return
		}
		fmt.Fprintln(v.out, styles.user.Render("you ›"), m.Content)
	default:
		content := chat.ParseContent(m.Content)
		fmt.Fprintln(v.out, styles.assistant.Render("assistant ›"))
		fmt.Fprintln(v.out, v.markdown(content.Response))
		if content.HasPrompt() {
			fmt.Fprintln(v.out, styles.accent.Render("Job description ready."),
				styles.muted.Render("Type /matches to search candidates."))
		}
	}
}

func (v *view) markdown(text string) string {
	if v.renderer == nil {
		return text
	}
	out, err := v.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
