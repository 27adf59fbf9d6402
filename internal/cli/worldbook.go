package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/34892002/3000World/pkg/worldbook"
)

var worldbookJSON bool

var worldbookCmd = &cobra.Command{
	Use:   "worldbook",
	Short: "Work with worldbook entries",
}

var worldbookMatchCmd = &cobra.Command{
	Use:   "match <text>",
	Short: "Show which worldbook entries a text triggers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(cmd); err != nil {
			return err
		}
		hits := layer.TriggeredWorldbooks(strings.Join(args, " "))
		if worldbookJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(hits)
		}
		if len(hits) == 0 {
			fmt.Println("No entries triggered.")
			return nil
		}
		for _, e := range hits {
			fmt.Printf("%s  [%s]\n", e.Name, e.Keywords)
		}
		return nil
	},
}

var suggestCount int

var worldbookSuggestCmd = &cobra.Command{
	Use:   "suggest <file>",
	Short: "Suggest keywords for a piece of lore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(worldbook.SuggestKeywords(string(data), suggestCount), ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(worldbookCmd)
	worldbookCmd.AddCommand(worldbookMatchCmd, worldbookSuggestCmd)
	addWorldFlag(worldbookMatchCmd)
	worldbookMatchCmd.Flags().BoolVar(&worldbookJSON, "json", false, "output as JSON")
	worldbookSuggestCmd.Flags().IntVarP(&suggestCount, "count", "n", 8, "number of keywords")
}
