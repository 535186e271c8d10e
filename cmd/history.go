package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spigell/recruit-chat/internal/chat"
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Print a stored conversation (the last one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		opts := chat.OpenOptions{}
		if len(args) == 1 {
			opts.ExplicitID = args[0]
		}
		opts.ProfileID, _ = cmd.Flags().GetString("profile")

		v := newView(os.Stdout, s.config.Chat.RenderWidth)
		opts.Observer = v.observe

		conv, err := chat.Open(ctx, s.chat, opts)
		if err != nil {
			return err
		}
		defer conv.Close()

		if conv.Fresh() && conv.ProfileID() == "" {
			fmt.Println(styles.muted.Render("There is no stored conversation yet."))
			return nil
		}
		if len(conv.Chat().Messages()) == 0 {
			fmt.Println(styles.muted.Render("The conversation is empty."))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringP("profile", "p", "", "print the conversation about the candidate profile with this id")
}
