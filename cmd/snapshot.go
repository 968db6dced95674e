package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/indexer"
	"github.com/jcdickinson/docindex/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Pack stored crates into a portable snapshot file, or unpack one",
}

var snapshotPackCmd = &cobra.Command{
	Use:   "pack <file> [crate ...]",
	Short: "Write stored crates (all when none are named) to a snapshot",
	Example: `  docindex snapshot pack index.dix
  docindex snapshot pack --compression lz4 index.dix serde tokio`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSnapshotPack,
}

var snapshotUnpackCmd = &cobra.Command{
	Use:   "unpack <file>",
	Short: "Store every crate of a snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotUnpack,
}

var (
	snapshotCompression string
	snapshotVersion     string
)

func init() {
	snapshotPackCmd.Flags().StringVar(&snapshotCompression, "compression", "", "zstd, lz4 or none (default from config snapshot.compression)")
	snapshotUnpackCmd.Flags().StringVar(&snapshotVersion, "version", "", "version to record for unpacked crates (default \""+indexer.UnknownVersion+"\")")

	snapshotCmd.AddCommand(snapshotPackCmd)
	snapshotCmd.AddCommand(snapshotUnpackCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotPack(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	compression := st.cfg.Snapshot.Compression
	if snapshotCompression != "" {
		c, err := snapshot.ParseCompression(snapshotCompression)
		if err != nil {
			log.Fatal(err)
		}
		compression = c
	}

	idx, err := st.db.LoadIndex(args[1:]...)
	if err != nil {
		log.Fatalf("loading index failed: %v", err)
	}
	if err := writeOutput(args[0], func(w io.Writer) error {
		return snapshot.Write(w, idx, compression)
	}); err != nil {
		log.Fatalf("writing snapshot failed: %v", err)
	}
	fmt.Printf("  packed %d crates (%s) into %s\n", len(idx), compression, args[0])
}

func runSnapshotUnpack(cmd *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		log.Fatalf("opening snapshot: %v", err)
	}
	defer f.Close()

	idx, err := snapshot.Read(f)
	if err != nil {
		log.Fatalf("reading snapshot %s: %v", args[0], err)
	}

	st := openStore()
	defer st.Close()

	results, err := st.ix.ImportIndex(idx, snapshotVersion)
	if err != nil {
		log.Fatalf("storing snapshot: %v", err)
	}
	for _, r := range results {
		fmt.Printf("  %s: %d items unpacked\n", r.Name, r.Items)
	}
}
