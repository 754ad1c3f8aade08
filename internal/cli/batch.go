package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/ui"
	"github.com/rileyhilliard/forkterm/internal/util"
	"github.com/spf13/cobra"
)

// DefaultBatchParallel is how many batch requests run at once.
const DefaultBatchParallel = 4

var (
	batchParallel int
	batchFailFast bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run one request per line from a file or stdin",
	Long: `Run several requests concurrently. Each non-empty line is one request;
lines starting with # are ignored. Results print in input order.

Requests to the same SSH host share one pooled connection.

Examples:
  forkterm batch jobs.txt
  printf 'on dgx: nvidia-smi\nin docker: uname -a\n' | forkterm batch --auto-close
  forkterm batch --parallel 8 --fail-fast jobs.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		lines, err := readBatch(path, cmd.InOrStdin())
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		items := runBatch(cmd.Context(), a, lines, batchOptions{
			Parallel:  batchParallel,
			FailFast:  batchFailFast,
			AutoClose: runAutoClose,
		})
		return reportBatch(cmd.OutOrStdout(), items, a.workDir)
	},
}

func init() {
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "p", DefaultBatchParallel, "maximum requests in flight")
	batchCmd.Flags().BoolVar(&batchFailFast, "fail-fast", false, "cancel remaining requests after the first failure")
	batchCmd.Flags().BoolVar(&runAutoClose, "auto-close", false, "capture output and clean up when each run finishes")
	rootCmd.AddCommand(batchCmd)
}

type batchOptions struct {
	Parallel  int
	FailFast  bool
	AutoClose bool
}

// batchItem is one line of a batch and how it ended.
type batchItem struct {
	Index  int
	Text   string
	Result *request.Result
}

// BatchItemJSON is a batch item under "data".
type BatchItemJSON struct {
	Index   int        `json:"index"`
	Request string     `json:"request"`
	Success bool       `json:"success"`
	Result  ResultJSON `json:"result"`
	Error   *JSONError `json:"error,omitempty"`
}

func readBatch(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Can't open batch file: "+path,
				"Check the path, or pipe requests on stdin.")
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Failed to read batch input", "")
	}
	if len(lines) == 0 {
		return nil, errors.New(errors.ErrParse, "No requests in batch input",
			"Put one request per line.")
	}
	return lines, nil
}

// runBatch runs every line through r with at most opts.Parallel in flight
// and returns the items in input order. With FailFast, the first failure
// cancels the rest; cancelled requests still tear down what they started.
func runBatch(ctx context.Context, r runner, lines []string, opts batchOptions) []batchItem {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make([]batchItem, len(lines))
	queue := make(chan int, len(lines))
	for i, line := range lines {
		items[i] = batchItem{Index: i + 1, Text: line}
		queue <- i
	}
	close(queue)

	workers := opts.Parallel
	if workers <= 0 {
		workers = DefaultBatchParallel
	}
	if workers > len(lines) {
		workers = len(lines)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				res := runOne(ctx, r, items[i].Text, opts.AutoClose)
				items[i].Result = res
				if !res.Success && opts.FailFast {
					cancel()
				}
			}
		}()
	}
	wg.Wait()
	return items
}

func runOne(ctx context.Context, r runner, text string, autoClose bool) *request.Result {
	if err := ctx.Err(); err != nil {
		return request.Failed(errors.WrapWithCode(err, errors.ErrCancelled,
			"Skipped after an earlier request failed", ""))
	}
	if autoClose {
		text += " auto-close"
	}
	req, err := r.Parse(text)
	if err != nil {
		return request.Failed(errors.As(err))
	}
	return r.Run(ctx, req)
}

func reportBatch(out io.Writer, items []batchItem, workDir string) error {
	failed := 0
	for _, it := range items {
		if !it.Result.Success {
			failed++
		}
	}

	if jsonOutput {
		data := make([]BatchItemJSON, len(items))
		for i, it := range items {
			data[i] = BatchItemJSON{
				Index:   it.Index,
				Request: it.Text,
				Success: it.Result.Success,
				Result:  resultToJSON(it.Result),
			}
			if it.Result.Err != nil {
				data[i].Error = ErrorToJSON(it.Result.Err)
			}
		}
		if err := writeJSONEnvelope(out, JSONEnvelope{Success: failed == 0, Data: data}); err != nil {
			return err
		}
	} else {
		renderer := ui.ResultRenderer{Verbose: verbose, WorkDir: workDir}
		for _, it := range items {
			fmt.Fprintln(out, ui.MutedStyle().Render(fmt.Sprintf("[%d] %s", it.Index, it.Text)))
			fmt.Fprint(out, renderer.Render(it.Result))
			fmt.Fprintln(out)
		}
		summary := fmt.Sprintf("%d of %s succeeded", len(items)-failed,
			util.Count(len(items), "request", "requests"))
		if failed == 0 {
			fmt.Fprintln(out, ui.SuccessStyle().Render(ui.SymbolSuccess+" "+summary))
		} else {
			fmt.Fprintln(out, ui.ErrorStyle().Render(ui.SymbolFail+" "+summary))
		}
	}

	if failed > 0 {
		return &exitError{code: ExitError}
	}
	return nil
}
