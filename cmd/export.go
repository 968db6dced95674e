package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/indexer"
	"github.com/jcdickinson/docindex/internal/searchindex"
	"github.com/jcdickinson/docindex/internal/snapshot"
)

var exportCmd = &cobra.Command{
	Use:   "export [crate ...]",
	Short: "Write search-index.js for stored crates",
	Long:  `Write the stored crates (all of them when none are named) as a search-index.js script that calls initSearch once.`,
	Example: `  docindex export > search-index.js
  docindex export -o search-index.js serde tokio`,
	Run: runExport,
}

var exportOut string

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	idx, err := st.db.LoadIndex(args...)
	if err != nil {
		log.Fatalf("loading index failed: %v", err)
	}
	if err := writeOutput(exportOut, func(w io.Writer) error {
		return searchindex.WriteJS(w, idx)
	}); err != nil {
		log.Fatalf("export failed: %v", err)
	}
}

var showCmd = &cobra.Command{
	Use:   "show <crate>",
	Short: "Print a stored crate's index document as JSON",
	Long: `Print a stored crate's index document as JSON. The crate is named by its
library name as shown by list, or by the crates.io package it was built from.`,
	Args: cobra.ExactArgs(1),
	Run:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	doc, err := st.db.LoadCrateDoc(args[0])
	if err != nil {
		log.Fatalf("show failed: %v", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Fatalf("encoding crate doc: %v", err)
	}
	fmt.Println(string(out))
}

var importCmd = &cobra.Command{
	Use:   "import <file> ...",
	Short: "Store crates from rustdoc JSON, search-index.js or snapshot files",
	Long: `Store crates from local files. The format is detected from content:
a docindex snapshot, a search-index.js script, or rustdoc JSON
(as produced by rustdoc --output-format json, optionally zstd-compressed
with a .zst suffix).`,
	Args: cobra.MinimumNArgs(1),
	Run:  runImport,
}

var importVersion string

func init() {
	importCmd.Flags().StringVar(&importVersion, "version", "", "version to record when the file does not carry one (default \""+indexer.UnknownVersion+"\")")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	for _, path := range args {
		data, err := readInput(path)
		if err != nil {
			log.Fatalf("reading %s: %v", path, err)
		}

		switch detectFormat(data) {
		case formatSnapshot:
			idx, err := snapshot.Read(bytes.NewReader(data))
			if err != nil {
				log.Fatalf("reading snapshot %s: %v", path, err)
			}
			results, err := st.ix.ImportIndex(idx, importVersion)
			if err != nil {
				log.Fatalf("importing %s: %v", path, err)
			}
			for _, r := range results {
				fmt.Printf("  %s: %d items imported\n", r.Name, r.Items)
			}
		case formatJS:
			idx, err := searchindex.ParseJS(bytes.NewReader(data))
			if err != nil {
				log.Fatalf("parsing %s: %v", path, err)
			}
			results, err := st.ix.ImportIndex(idx, importVersion)
			if err != nil {
				log.Fatalf("importing %s: %v", path, err)
			}
			for _, r := range results {
				fmt.Printf("  %s: %d items imported\n", r.Name, r.Items)
			}
		default:
			r, err := st.ix.ImportRustdoc(data, importVersion)
			if err != nil {
				log.Fatalf("importing %s: %v", path, err)
			}
			fmt.Printf("  %s@%s: %d items imported\n", r.Name, r.Version, r.Items)
		}
	}
}

type inputFormat int

const (
	formatRustdoc inputFormat = iota
	formatJS
	formatSnapshot
)

func detectFormat(data []byte) inputFormat {
	if bytes.HasPrefix(data, []byte("DIX1")) {
		return formatSnapshot
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("var searchIndex")) || bytes.HasPrefix(trimmed, []byte("//")) {
		return formatJS
	}
	return formatRustdoc
}

// readInput reads a file, or stdin for "-", decompressing .zst files.
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(bufio.NewReader(os.Stdin))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".zst") {
		return decompressZstd(data)
	}
	return data, nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// writeOutput runs fn against path, or stdout when path is empty. The file
// is only put in place once fn succeeds.
func writeOutput(path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		w := bufio.NewWriter(os.Stdout)
		if err := fn(w); err != nil {
			return err
		}
		return w.Flush()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	w := bufio.NewWriter(tmp)
	if err := fn(w); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("committing output: %w", err)
	}
	return nil
}
