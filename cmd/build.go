package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/indexer"
	"github.com/jcdickinson/docindex/internal/rpc"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

var buildCmd = &cobra.Command{
	Use:   "build [crate[@version] ...]",
	Short: "Build search indexes from docs.rs rustdoc JSON",
	Long:  `Fetch rustdoc JSON from docs.rs, build each crate's search index and store it. Version defaults to "latest".`,
	Example: `  docindex build serde
  docindex build serde@1.0.200 tokio@1.40.0
  docindex build --force read-exact@0.1.0`,
	Args: cobra.MinimumNArgs(1),
	Run:  runBuild,
}

var (
	buildForce       bool
	buildConcurrency int
)

func init() {
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild crates already stored at the requested version")
	buildCmd.Flags().IntVarP(&buildConcurrency, "jobs", "j", 0, "crates to build in parallel (default from config fetch.concurrency)")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	if !build(args) {
		os.Exit(1)
	}
}

// build reports whether every crate was built or already stored.
func build(args []string) bool {
	var specs []indexer.CrateSpec
	for _, arg := range args {
		spec, err := indexer.ParseCrateSpec(arg)
		if err != nil {
			log.Fatal(err)
		}
		specs = append(specs, spec)
	}

	st := openStoreWith(indexer.Options{Concurrency: buildConcurrency})
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := st.ix.Build(ctx, specs, indexer.BuildOptions{
		Force: buildForce,
		Progress: func(msg string) {
			fmt.Printf("  %s\n", msg)
		},
	})
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}

	failed := false
	for _, r := range results {
		switch {
		case r.Error != "":
			failed = true
			fmt.Printf("  %s@%s: error: %s\n", r.Name, r.Version, r.Error)
		case r.Cached:
			fmt.Printf("  %s@%s: %d items (already stored)\n", r.Name, r.Version, r.Items)
		default:
			fmt.Printf("  %s@%s: %d items indexed\n", r.Name, r.Version, r.Items)
		}
	}
	return !failed
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored crates",
	Args:  cobra.NoArgs,
	Run:   runList,
}

var listJSON bool

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	crates, err := st.db.ListCrates()
	if err != nil {
		log.Fatalf("listing crates failed: %v", err)
	}

	if listJSON {
		resp := rpc.CratesResponse{Crates: []rpc.CrateInfo{}}
		for _, c := range crates {
			resp.Crates = append(resp.Crates, rpc.CrateInfoFrom(c))
		}
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(crates) == 0 {
		fmt.Println("no crates indexed")
		return
	}
	for _, c := range crates {
		fmt.Printf("  %s@%s (%d items, built %s)\n", c.Name, c.Version, c.ItemCount, c.BuiltAt.Local().Format("2006-01-02 15:04"))
	}
}

var findCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Find stored items by name",
	Example: `  docindex find read_exact_or_eof
  docindex find --crate serde --kind trait Serialize
  docindex find --limit 5 spawn`,
	Args: cobra.ExactArgs(1),
	Run:  runFind,
}

var (
	findCrate string
	findKind  string
	findLimit int
)

func init() {
	findCmd.Flags().StringVar(&findCrate, "crate", "", "restrict to one crate")
	findCmd.Flags().StringVar(&findKind, "kind", "", "restrict to an item kind (fn, struct, trait, method, ...)")
	findCmd.Flags().IntVar(&findLimit, "limit", 20, "max results")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) {
	q := db.FindQuery{Text: args[0], Crate: findCrate, Limit: findLimit}
	if findKind != "" {
		kind, err := searchindex.ParseItemType(findKind)
		if err != nil {
			log.Fatal(err)
		}
		q.Kind = &kind
	}

	st := openStore()
	defer st.Close()

	matches, err := st.db.FindItems(q)
	if err != nil {
		log.Fatalf("find failed: %v", err)
	}
	if len(matches) == 0 {
		fmt.Println("no results")
		return
	}
	for i, m := range matches {
		fmt.Printf("%d. %s (%s) [%s]\n", i+1, m.FullPath, m.Item.Kind, m.Crate)
		if m.Item.Desc != "" {
			fmt.Printf("   %s\n", m.Item.Desc)
		}
	}
}

var removeCmd = &cobra.Command{
	Use:   "remove <crate> ...",
	Short: "Remove stored crates",
	Long: `Remove stored crates. Crates are stored under the library name rustdoc
reports, which is what list prints. A crate built with docindex build can
also be named by the crates.io package it was built from.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) {
	st := openStore()
	defer st.Close()

	for _, name := range args {
		removed, err := st.ix.Remove(name)
		if err != nil {
			log.Fatalf("removing %s failed: %v", name, err)
		}
		if removed {
			fmt.Printf("  %s: removed\n", name)
		} else {
			fmt.Printf("  %s: not stored\n", name)
		}
	}
}
