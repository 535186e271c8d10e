package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
	"github.com/spigell/recruit-chat/internal/logger"
	"github.com/spigell/recruit-chat/internal/recruiter"
)

const (
	commandExit    = "/exit"
	commandNew     = "/new"
	commandMatches = "/matches"
	commandHelp    = "/help"

	PromptBack = "back"
)

var errExit = errors.New("exit requested")

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the recruiting assistant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChat(cmd)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("id", "", "resume the conversation with this id")
	chatCmd.Flags().StringP("profile", "p", "", "talk about the candidate profile with this id")
	chatCmd.Flags().String("candidate", "", "candidate name used to scope a profile conversation (fetched when empty)")
	chatCmd.Flags().Bool("auto-context", true, "scope new profile conversations to the candidate automatically")
}

type chatRunner struct {
	s    *session
	view *view
	conv *chat.Conversation
	out  io.Writer
}

func runChat(cmd *cobra.Command) error {
	s, ctx, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	explicitID, _ := cmd.Flags().GetString("id")
	profileID, _ := cmd.Flags().GetString("profile")
	candidate, _ := cmd.Flags().GetString("candidate")
	autoContext, _ := cmd.Flags().GetBool("auto-context")

	r := &chatRunner{
		s:    s,
		view: newView(os.Stdout, s.config.Chat.RenderWidth),
		out:  os.Stdout,
	}

	s.logger.Info("starting the chat", zap.String("version", version))

	if err := r.open(ctx, chat.OpenOptions{
		ExplicitID:      explicitID,
		ProfileID:       profileID,
		CandidateName:   candidate,
		AutoSendContext: autoContext,
	}); err != nil {
		return err
	}
	defer func() { r.conv.Close() }()

	fmt.Fprintln(r.out, styles.muted.Render("Type /help for commands."))

	err = r.loop(ctx)
	if errors.Is(err, errExit) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *chatRunner) open(ctx context.Context, opts chat.OpenOptions) error {
	opts.ProfileID = strings.TrimSpace(opts.ProfileID)
	if opts.ProfileID != "" && strings.TrimSpace(opts.CandidateName) == "" {
		opts.CandidateName = r.candidateName(ctx, opts.ProfileID)
	}

	r.view.setLive(false)
	opts.Observer = r.view.observe

	conv, err := chat.Open(ctx, r.s.chat, opts)
	if err != nil && conv == nil {
		return fmt.Errorf("opening conversation: %w", err)
	}
	if err != nil {
		r.s.logger.Warn("sending candidate context", zap.Error(err))
	}

	r.conv = conv
	r.view.setLive(true)

	logger.WithChat(r.s.logger, r.s.backend, conv.ID(), conv.ProfileID()).Info("conversation opened",
		zap.Bool("fresh", conv.Fresh()),
		zap.Int("messages", len(conv.Chat().Messages())),
	)

	return nil
}

func (r *chatRunner) candidateName(ctx context.Context, profileID string) string {
	profile, err := r.s.client.Profile(ctx, profileID)
	if err != nil {
		r.s.logger.Warn("fetching candidate profile", zap.String(logger.FieldProfileID, profileID), zap.Error(err))
		return ""
	}
	return profile.CandidateName()
}

func (r *chatRunner) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		input := promptui.Prompt{Label: r.label()}
		text, err := input.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return errExit
			}
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if err := r.handle(ctx, text); err != nil {
			return err
		}
	}
}

func (r *chatRunner) label() string {
	if id := r.conv.ProfileID(); id != "" {
		return fmt.Sprintf("you (%s)", id)
	}
	return "you"
}

func (r *chatRunner) handle(ctx context.Context, text string) error {
	command, arg, _ := strings.Cut(text, " ")

	switch command {
	case commandExit:
		return errExit
	case commandHelp:
		fmt.Fprintln(r.out, styles.muted.Render(strings.Join([]string{
			commandNew + "              start a new conversation",
			commandMatches + " [query]  search candidates for the job description",
			commandExit + "             leave",
		}, "\n")))
		return nil
	case commandNew:
		return r.conv.NewConversation(ctx)
	case commandMatches:
		return r.matches(ctx, strings.TrimSpace(arg))
	}

	err := r.conv.Submit(ctx, text)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrUnauthorized):
		return errExit
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrEmptyMessage):
		return nil
	default:
		// Already shown by the view, the conversation stays usable.
		r.s.logger.Debug("exchange failed", zap.Error(err))
		return nil
	}
}

// matches hands the conversation off to the candidate search. Picking a
// candidate continues in a conversation scoped to their profile.
func (r *chatRunner) matches(ctx context.Context, query string) error {
	if query == "" {
		prompt, ok := r.conv.LatestPrompt()
		if !ok {
			fmt.Fprintln(r.out, styles.muted.Render("No job description yet. Keep describing the position or pass a query: /matches <query>"))
			return nil
		}
		query = prompt
	}

	// Leaving a profile view for the general search.
	if err := r.conv.Navigate(ctx, chat.Flags{ProfileContext: false}); err != nil {
		r.s.logger.Warn("clearing candidate context", zap.Error(err))
	}

	found, err := r.s.client.SearchMatches(ctx, query)
	if err != nil {
		if errors.Is(err, chat.ErrUnauthorized) {
			return errExit
		}
		fmt.Fprintln(r.out, styles.err.Render("error:"), err.Error())
		return nil
	}

	if len(found) == 0 {
		fmt.Fprintln(r.out, styles.muted.Render("No matching candidates found."))
		return nil
	}

	match, err := selectMatch(found)
	if err != nil {
		return err
	}
	if match == nil {
		return r.conv.Navigate(ctx, chat.Flags{ProfileContext: r.conv.ProfileID() != ""})
	}

	r.conv.Close()
	return r.open(ctx, chat.OpenOptions{
		ProfileID:       match.ID,
		CandidateName:   match.Name,
		AutoSendContext: true,
	})
}

func selectMatch(found recruiter.Matches) (*recruiter.Match, error) {
	items := make([]string, 0, len(found)+1)
	for _, m := range found {
		items = append(items, matchLabel(m))
	}

	matchPrompt := promptui.Select{
		Label: "Choose a candidate and press ENTER",
		Items: append(items, PromptBack),
		Size:  10,
	}

	idx, selected, err := matchPrompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return nil, nil
		}
		return nil, err
	}
	if selected == PromptBack || idx >= len(found) {
		return nil, nil
	}
	return found[idx], nil
}

func matchLabel(m *recruiter.Match) string {
	label := fmt.Sprintf("%s %s", m.ID, m.Name)
	if m.Title != "" {
		label += " / " + m.Title
	}
	return fmt.Sprintf("%s (%.0f%%)", label, m.Score*100)
}
