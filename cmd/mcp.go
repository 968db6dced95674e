package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as an MCP server on stdio",
	Args:  cobra.NoArgs,
	Run:   runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	if err := mcp.NewServer(st.db, st.ix, version).Run(); err != nil {
		log.Fatalf("mcp server failed: %v", err)
	}
}
