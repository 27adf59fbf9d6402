package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read chat history",
}

var chatSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List chat sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(cmd); err != nil {
			return err
		}
		ids, err := layer.Chat().Sessions(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var chatSession string

var chatHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the messages of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(cmd); err != nil {
			return err
		}
		msgs, err := layer.Chat().Get(cmd.Context(), chatSession)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			who := m.CharacterName
			if who == "" {
				who = m.Role
			}
			ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
			fmt.Printf("%s  %s: %s\n", ts, who, m.Content)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatSessionsCmd, chatHistoryCmd)
	addWorldFlag(chatSessionsCmd)
	addWorldFlag(chatHistoryCmd)
	chatHistoryCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id (required)")
	chatHistoryCmd.MarkFlagRequired("session")
}
