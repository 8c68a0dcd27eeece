// Command realperf runs a performance reconstruction over a JSON bundle
// and prints the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bobmcallan/realperf/internal/app"
	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
)

const usage = `Usage: realperf <command> [flags]

Commands:
  run       Compute monthly NAV and returns from an input bundle
  version   Print version information
`

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs one command and returns the process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	switch args[0] {
	case "run":
		if err := runCommand(ctx, args[1:], stdin, stdout, stderr); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				return 0
			}
			fmt.Fprintf(stderr, "realperf: %v\n", err)
			if models.IsConfigurationError(err) {
				return 2
			}
			return 1
		}
		return 0
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, common.CurrentBuild().String())
		return 0
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "realperf: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

type runFlags struct {
	Input  string
	Config string
	Output string
	Format string
}

// Bind registers the flag definitions with the given flag set.
func (f *runFlags) Bind(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.Input, "input", "i", "", "Input bundle JSON file (- for stdin)")
	flagSet.StringVarP(&f.Config, "config", "c", "", "Configuration file path")
	flagSet.StringVarP(&f.Output, "output", "o", "", "Write the result to this file instead of stdout")
	flagSet.StringVar(&f.Format, "format", "json", "Output format (json, summary)")
}

func runCommand(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := &runFlags{}
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flags.Bind(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flags.Input == "" {
		return models.NewConfigurationError("input", "--input is required")
	}
	if flags.Format != "json" && flags.Format != "summary" {
		return models.NewConfigurationError("format", "unknown format %q", flags.Format)
	}

	bundle, err := readBundle(flags.Input, stdin)
	if err != nil {
		return err
	}

	a, err := app.NewApp(flags.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Engine.RunBundle(ctx, bundle)
	if err != nil {
		return err
	}

	out := stdout
	if flags.Output != "" {
		f, err := os.Create(flags.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if flags.Format == "summary" {
		return writeSummary(out, result)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readBundle(path string, stdin io.Reader) (models.InputBundle, error) {
	var bundle models.InputBundle
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return bundle, fmt.Errorf("failed to open input bundle: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return bundle, fmt.Errorf("failed to parse input bundle %s: %w", path, err)
	}
	return bundle, nil
}

// writeSummary prints the selected track month by month plus headline figures.
func writeSummary(w io.Writer, res *models.PerformanceResult) error {
	track := res.SelectedTrack()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Month\tStart\tNet flow\tEnd\tReturn\t\n")
	for _, m := range track.Months {
		flag := ""
		if m.Degenerate {
			flag = " *"
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f%%%s\t\n", m.Month, m.StartValue, m.NetFlow, m.EndValue, m.Return*100, flag)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	warnings := len(res.Diagnostics.Warnings)
	fmt.Fprintf(w, "\nTrack:       %s (%s)\n", track.Track, res.BaseCurrency)
	fmt.Fprintf(w, "Cumulative:  %.2f%%\n", track.CumulativeReturn*100)
	fmt.Fprintf(w, "Annualized:  %.2f%%\n", track.AnnualizedReturn*100)
	fmt.Fprintf(w, "XIRR:        %.2f%%\n", track.XIRR*100)
	fmt.Fprintf(w, "Warnings:    %d\n", warnings)
	return nil
}
