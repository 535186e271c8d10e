package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
)

var matchesCmd = &cobra.Command{
	Use:   "matches [query]",
	Short: "Search candidates for a job description (the last extracted one by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			query, err = lastPrompt(cmd, s)
			if err != nil {
				return err
			}
		}

		s.logger.Info("searching candidates", zap.String("query", query))

		found, err := s.client.SearchMatches(ctx, query)
		if err != nil {
			return fmt.Errorf("search matches: %w", err)
		}

		if len(found) == 0 {
			fmt.Println(styles.muted.Render("No matching candidates found."))
			return nil
		}

		idStyle := lipgloss.NewStyle().Width(12)
		nameStyle := lipgloss.NewStyle().Width(28).Bold(true)
		for _, m := range found {
			fmt.Println(lipgloss.JoinHorizontal(lipgloss.Top,
				idStyle.Render(m.ID),
				nameStyle.Render(m.Name),
				styles.accent.Render(fmt.Sprintf("%5.1f%%  ", m.Score*100)),
				styles.muted.Render(m.Title),
			))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(matchesCmd)
}

// lastPrompt returns the job description of the stored regular conversation.
func lastPrompt(cmd *cobra.Command, s *session) (string, error) {
	conv, err := chat.Open(cmd.Context(), s.chat, chat.OpenOptions{})
	if err != nil {
		return "", err
	}
	defer conv.Close()

	prompt, ok := conv.LatestPrompt()
	if !ok {
		return "", errors.New("no job description in the last conversation, pass a query")
	}
	return prompt, nil
}
