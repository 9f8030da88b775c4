package cmd

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/elements"
	"github.com/JakeFAU/biodumpy/internal/progress"
)

type downloadOptions struct {
	file       string
	modules    []string
	output     string
	bulk       bool
	noProgress bool
}

func newDownloadCmd() *cobra.Command {
	opts := &downloadOptions{}
	cmd := &cobra.Command{
		Use:   "download [query...]",
		Short: "Download data for a list of elements",
		Long: `Runs every selected module against every element and writes one file per
element and module, or one bulk file per module. Elements come from the
arguments and from --file (text, JSON, YAML or CSV).`,
		Example: `  biodumpy download -m gbif -m worms "Alnus glutinosa" "Delphinus delphis"
  biodumpy download -m crossref -f dois.txt --bulk -o "out/{module}/{name}"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read elements from a file")
	cmd.Flags().StringSliceVarP(&opts.modules, "module", "m", nil, "module to run (repeatable)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output path template, e.g. downloads/{date}/{module}/{name}")
	cmd.Flags().BoolVar(&opts.bulk, "bulk", false, "write one file per module instead of one per element")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func runDownload(cmd *cobra.Command, args []string, opts *downloadOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	els, err := collectElements(args, opts.file)
	if err != nil {
		return err
	}
	if len(opts.modules) == 0 {
		return errors.New("at least one --module is required")
	}

	cfg := rt.cfg
	if opts.output != "" {
		cfg.Output.Path = opts.output
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	var observers []biodumpy.Observer
	var bar *progress.Bar
	if cfg.Output.Progress && !opts.noProgress {
		bar = progress.NewBar(cmd.ErrOrStderr(), len(opts.modules), rt.logger)
		observers = append(observers, bar)
	}
	runner, err := a.NewRunner(opts.modules, opts.bulk, observers...)
	if err != nil {
		return err
	}
	summary, runErr := runner.Start(ctx, els, a.OutputTemplate())
	if bar != nil {
		bar.Finish()
	}

	printSummary(cmd.OutOrStdout(), summary)
	rt.logger.Info("download finished",
		zap.Int("elements", summary.Elements),
		zap.Int("records", summary.Records),
		zap.Int("failures", summary.Failures),
		zap.Int("dumps", len(summary.Dumps)))
	if runErr != nil {
		return fmt.Errorf("download: %w", runErr)
	}
	return nil
}

// collectElements merges positional queries with the contents of file,
// dropping blanks.
func collectElements(args []string, file string) ([]biodumpy.Element, error) {
	out := make([]biodumpy.Element, 0, len(args))
	for _, arg := range args {
		el, err := biodumpy.ParseElement(arg)
		if err != nil {
			return nil, fmt.Errorf("parse element %q: %w", arg, err)
		}
		if !el.IsZero() {
			out = append(out, el)
		}
	}
	if file != "" {
		fromFile, err := elements.LoadFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	if len(out) == 0 {
		return nil, errors.New("no elements given; pass queries as arguments or use --file")
	}
	return out, nil
}

func printSummary(w io.Writer, summary biodumpy.Summary) {
	if len(summary.Dumps) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"module", "name", "records", "path"})
		for _, d := range summary.Dumps {
			table.Append([]string{d.Module, d.Name, strconv.Itoa(d.Records), d.URI})
		}
		table.Render()
	}
	fmt.Fprintf(w, "%d elements, %d records, %d failures, %d files\n",
		summary.Elements, summary.Records, summary.Failures, len(summary.Dumps))
}
