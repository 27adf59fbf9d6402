package cli

import (
	"fmt"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/34892002/3000World/pkg/vectormem"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Search and rebuild chat memory vectors",
}

var (
	recallTopK    int
	recallSession string
)

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <text>",
	Short: "Find earlier messages similar to a text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(cmd); err != nil {
			return err
		}
		if st := layer.VectorState(); st != vectormem.Ready {
			return fmt.Errorf("memory is %s for world %q", st, worldName)
		}
		matches, err := layer.Recall(cmd.Context(), strings.Join(args, " "), recallTopK, recallSession)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No memories found.")
			return nil
		}
		for i, m := range matches {
			who := m.CharacterName
			if who == "" {
				who = m.Role
			}
			fmt.Printf("%d. [%.3f] %s (%s): %s\n", i+1, m.Distance, who, m.SessionID, m.Content)
		}
		return nil
	},
}

var memoryReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed every chat message again",
	Long: `Rebuild the memory vectors of a world from its chat history, for
example after an import or after changing the embedding model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(cmd); err != nil {
			return err
		}

		var bar *progressbar.ProgressBar
		progress := func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "[green]=[reset]",
						SaucerHead:    "[green]>[reset]",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
					progressbar.OptionOnCompletion(func() { fmt.Println() }),
				)
			}
			bar.Set(done)
		}

		res, err := layer.Reindex(cmd.Context(), progress)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d of %d messages (%d empty, %d failed)\n",
			res.Indexed, res.Total, res.Skipped, res.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryRecallCmd, memoryReindexCmd)
	addWorldFlag(memoryRecallCmd)
	addWorldFlag(memoryReindexCmd)
	memoryRecallCmd.Flags().IntVarP(&recallTopK, "top-k", "k", 0, "number of results (default from config)")
	memoryRecallCmd.Flags().StringVarP(&recallSession, "session", "s", "", "limit to one chat session")
}
