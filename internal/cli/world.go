package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "List, inspect and delete worlds",
}

var worldListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worlds in the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := layer.ListWorlds()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No worlds found in", cfg.Storage.DataDir)
			return nil
		}
		for _, name := range names {
			info, err := os.Stat(layer.WorldPath(name))
			if err != nil {
				fmt.Println(name)
				continue
			}
			fmt.Printf("%-24s %10s  modified %s\n", name,
				humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
		}
		return nil
	},
}

var worldInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what a world contains",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(cmd); err != nil {
			return err
		}
		ctx := cmd.Context()
		sessions, err := layer.Chat().Sessions(ctx)
		if err != nil {
			return err
		}
		vectors, err := layer.VectorCount(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("World:       %s\n", worldName)
		fmt.Printf("Characters:  %d\n", layer.Characters().Count())
		if p := layer.Characters().PlayerCharacter(); p != nil {
			fmt.Printf("Player:      %s\n", p.Name)
		}
		fmt.Printf("Groups:      %d\n", layer.Groups().Count())
		fmt.Printf("Worldbooks:  %d\n", layer.Worldbooks().Count())
		fmt.Printf("Sessions:    %d\n", len(sessions))
		fmt.Printf("Vectors:     %d (%s)\n", vectors, layer.VectorState())
		if m := layer.Config().Get().Model; m != "" {
			fmt.Printf("Model:       %s\n", m)
		}
		return nil
	},
}

var worldDeleteYes bool

var worldDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a world and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !worldDeleteYes {
			return fmt.Errorf("refusing to delete %q without --yes", args[0])
		}
		start := time.Now()
		if err := layer.DeleteWorld(args[0]); err != nil {
			return err
		}
		logger.Info("world deleted", "world", args[0], "took", time.Since(start))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(worldCmd)
	worldCmd.AddCommand(worldListCmd, worldInfoCmd, worldDeleteCmd)
	addWorldFlag(worldInfoCmd)
	worldDeleteCmd.Flags().BoolVar(&worldDeleteYes, "yes", false, "confirm deletion")
}
