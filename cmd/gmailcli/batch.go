package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// readIDsFromStdin reads message IDs from stdin, one per line
func readIDsFromStdin(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading stdin: %w", err)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("no IDs received from stdin")
	}

	return ids, nil
}

// batchProcessor runs an operation per ID and accumulates failures
// without stopping the batch.
type batchProcessor struct {
	total     int
	processed int
	errs      *multierror.Error
	verbose   bool
}

func newBatchProcessor(total int, verbose bool) *batchProcessor {
	return &batchProcessor{total: total, verbose: verbose}
}

// process executes fn for each ID, collecting per-ID failures.
func (bp *batchProcessor) process(ctx context.Context, ids []string, fn func(context.Context, string) error) {
	for i, id := range ids {
		if err := fn(ctx, id); err != nil {
			bp.errs = multierror.Append(bp.errs, fmt.Errorf("ID %s: %w", id, err))
			if bp.verbose {
				fmt.Fprintf(os.Stderr, "Warning: failed to process %s: %v\n", id, err)
			}
		}
		bp.processed++

		// Show progress for large batches
		if bp.verbose && len(ids) > 10 && (i+1)%10 == 0 {
			fmt.Fprintf(os.Stderr, "Progress: %d/%d\n", i+1, len(ids))
		}
	}
}

func (bp *batchProcessor) failed() int {
	// Len has a value receiver in go-multierror, so a nil *Error must
	// not be dereferenced.
	if bp.errs == nil {
		return 0
	}
	return bp.errs.Len()
}

func (bp *batchProcessor) err() error {
	return bp.errs.ErrorOrNil()
}

// report prints final batch processing report
func (bp *batchProcessor) report(w io.Writer) {
	fmt.Fprintf(w, "Processed %d/%d items\n", bp.processed-bp.failed(), bp.total)
	if bp.failed() > 0 {
		fmt.Fprintf(w, "Errors: %d\n", bp.failed())
		if bp.verbose {
			for _, err := range bp.errs.WrappedErrors() {
				fmt.Fprintf(os.Stderr, "  - %v\n", err)
			}
		}
	}
}
