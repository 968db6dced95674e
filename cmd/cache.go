package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/config"
	"github.com/jcdickinson/docindex/internal/docs"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete downloaded rustdoc JSON (and with --all, every stored index)",
	Args:  cobra.NoArgs,
	Run:   runClearCache,
}

var clearAll bool

func init() {
	clearCacheCmd.Flags().BoolVar(&clearAll, "all", false, "also delete the database and rendered indexes")
	rootCmd.AddCommand(clearCacheCmd)
}

func runClearCache(cmd *cobra.Command, args []string) {
	if err := docs.ClearCrateCache(); err != nil {
		slog.Error("failed to clear rustdoc cache", "error", err)
		os.Exit(1)
	}
	fmt.Println("rustdoc cache cleared")

	if !clearAll {
		return
	}
	dbPath := config.DBPath()
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Error("failed to remove database", "path", p, "error", err)
			os.Exit(1)
		}
	}
	if err := os.RemoveAll(config.CASDir()); err != nil {
		slog.Error("failed to remove rendered indexes", "error", err)
		os.Exit(1)
	}
	fmt.Println("stored indexes cleared")
}
