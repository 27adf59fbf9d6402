package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a world to a JSON document",
	Long: `Export every collection of a world (characters, groups, worldbooks,
chat messages and config) as one JSON document. Memory vectors are not
exported; run 'worldctl memory reindex' after importing to rebuild them.

Examples:
  worldctl export -w tavern -o tavern.json
  worldctl export -w tavern > tavern.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := layer.ExportWorld(cmd.Context(), worldName)
		if err != nil {
			return err
		}
		if exportOut == "" || exportOut == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOut, err)
		}
		logger.Info("exported", "world", worldName, "file", exportOut, "bytes", len(data))
		return nil
	},
}

var importIn string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace a world's content with a JSON document",
	Long: `Import a document written by 'worldctl export'. The target world is
created if it does not exist; otherwise all of its content is replaced.
The document is validated before anything is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if importIn == "" || importIn == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(importIn)
		}
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		if err := layer.ImportWorld(cmd.Context(), data, worldName); err != nil {
			return err
		}
		logger.Info("imported", "world", worldName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
	addWorldFlag(exportCmd)
	addWorldFlag(importCmd)
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	importCmd.Flags().StringVarP(&importIn, "input", "i", "", "input file (default stdin)")
}
