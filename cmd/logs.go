package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/docindex/internal/config"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the server log",
	Long: `Print the end of the log file. Only "docindex serve --log" writes to it;
a server started without --log logs to stderr instead.`,
	Run: runLogs,
}

var (
	logsFollow bool
	logsLines  int
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing lines as the server appends them")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of trailing lines to print")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) {
	f, err := os.Open(config.LogPath())
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println("no log file yet; start the server with `docindex serve --log`")
		return
	}
	if err != nil {
		log.Fatalf("opening log: %v", err)
	}
	defer f.Close()

	lines, err := lastLines(f, logsLines)
	if err != nil {
		log.Fatalf("reading log: %v", err)
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	if !logsFollow {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := follow(ctx, f, os.Stdout, 250*time.Millisecond); err != nil {
		log.Fatalf("following log: %v", err)
	}
}

// lastLines returns up to n final lines of r, leaving r at its end.
func lastLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		_, err := io.Copy(io.Discard, r)
		return nil, err
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if len(ring) == n {
			ring = append(ring[1:], sc.Text())
		} else {
			ring = append(ring, sc.Text())
		}
	}
	return ring, sc.Err()
}

// follow copies whatever is appended to r into w until ctx is done.
func follow(ctx context.Context, r io.Reader, w io.Writer, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if _, err := io.Copy(w, r); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
