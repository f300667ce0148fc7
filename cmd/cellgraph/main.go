// Package main provides the CLI entry point for cellgraph.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javajack/cellgraph"
)

var (
	setValues     []string
	cycles        bool
	maxIterations int
	tolerance     float64
	verbose       bool

	outputPath   string
	inputAddrs   []string
	outputAddrs  []string
	exportFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cellgraph",
		Short: "Compile spreadsheet formulas into an executable dependency graph",
		Long: `cellgraph reads a workbook (or a saved model snapshot), compiles its
formulas into a dependency graph, and evaluates, focuses, validates or
exports that graph.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVar(&cycles, "cycles", false, "Solve circular references iteratively")
	rootCmd.PersistentFlags().IntVar(&maxIterations, "max-iterations", 100, "Iteration limit for circular references")
	rootCmd.PersistentFlags().Float64Var(&tolerance, "tolerance", 0.001, "Convergence tolerance for circular references")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
	rootCmd.PersistentFlags().StringSliceVar(&setValues, "set", nil, "Override a cell before evaluating, e.g. --set 'Sheet1!A1=5'")

	rootCmd.AddCommand(evalCmd(), treeCmd(), focusCmd(), saveCmd(), exportCmd(), validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func evalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval [model] [address...]",
		Short: "Evaluate addresses and print their values",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadModel(args[0])
			if err != nil {
				return err
			}
			for _, addr := range args[1:] {
				v, err := s.Resolve(addr)
				if err != nil {
					var warn *cellgraph.ConvergenceWarning
					if !asWarning(err, &warn) {
						return fmt.Errorf("evaluating %s: %w", addr, err)
					}
					fmt.Fprintf(os.Stderr, "warning: %v\n", warn)
				}
				fmt.Printf("%s = %v\n", addr, v)
			}
			return nil
		},
	}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [model] [address]",
		Short: "Print the value tree of an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadModel(args[0])
			if err != nil {
				return err
			}
			out, err := s.ValueTreeString(args[1])
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func focusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "focus [model]",
		Short: "Trim the model to the subgraph between inputs and outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(outputAddrs) == 0 {
				return fmt.Errorf("focus requires at least one --output")
			}
			if outputPath == "" {
				return fmt.Errorf("focus requires --output-file to save the focused model")
			}
			s, err := loadModel(args[0])
			if err != nil {
				return err
			}
			if err := s.Focus(inputAddrs, outputAddrs); err != nil {
				return fmt.Errorf("focusing model: %w", err)
			}
			return s.SaveFile(outputPath)
		},
	}
	cmd.Flags().StringSliceVar(&inputAddrs, "input", nil, "Input address (repeatable)")
	cmd.Flags().StringSliceVar(&outputAddrs, "output", nil, "Output address (repeatable)")
	cmd.Flags().StringVarP(&outputPath, "output-file", "o", "", "Snapshot file to write (.json, .yml)")
	return cmd
}

func saveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save [model] [address...]",
		Short: "Resolve addresses and save the model as a snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputPath == "" {
				return fmt.Errorf("save requires --output-file")
			}
			s, err := loadModel(args[0])
			if err != nil {
				return err
			}
			for _, addr := range args[1:] {
				if _, err := s.Resolve(addr); err != nil {
					var warn *cellgraph.ConvergenceWarning
					if !asWarning(err, &warn) {
						return fmt.Errorf("evaluating %s: %w", addr, err)
					}
				}
			}
			return s.SaveFile(outputPath)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output-file", "o", "", "Snapshot file to write (.json, .yml)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [model] [address...]",
		Short: "Export the dependency graph for visualization",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadModel(args[0])
			if err != nil {
				return err
			}
			for _, addr := range args[1:] {
				if _, err := s.Resolve(addr); err != nil {
					var warn *cellgraph.ConvergenceWarning
					if !asWarning(err, &warn) {
						return fmt.Errorf("evaluating %s: %w", addr, err)
					}
				}
			}
			w := os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			switch exportFormat {
			case "gexf":
				return s.ExportGEXF(w)
			case "dot":
				return s.ExportDOT(w)
			default:
				return fmt.Errorf("invalid format: %s (must be gexf or dot)", exportFormat)
			}
		},
	}
	cmd.Flags().StringVar(&exportFormat, "format", "dot", "Export format: gexf, dot")
	cmd.Flags().StringVarP(&outputPath, "output-file", "o", "", "File to write (default: stdout)")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [model] [address...]",
		Short: "Recalculate formulas and compare against stored values",
		Long: `For a workbook, every formula is recalculated and compared with the
cached value the authoring application stored. For a snapshot, every
formula record is re-resolved and compared with the recorded value.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			var issues []cellgraph.ValidationIssue
			switch strings.ToLower(filepath.Ext(path)) {
			case ".xlsx", ".xlsm":
				src, err := cellgraph.OpenWorkbook(path)
				if err != nil {
					return err
				}
				issues = newSession(src).ValidateCalcs(src, args[1:], tolerance)
			default:
				snap, err := cellgraph.ReadSnapshotFile(path)
				if err != nil {
					return err
				}
				issues, err = cellgraph.ValidateSnapshot(snap, tolerance, sessionOptions()...)
				if err != nil {
					return err
				}
			}
			for _, issue := range issues {
				fmt.Println(issue)
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d validation issue(s)", len(issues))
			}
			fmt.Println("all calculations match")
			return nil
		},
	}
}

// loadModel opens a workbook or snapshot by extension and applies --set
// overrides.
func loadModel(path string) (*cellgraph.Session, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	var s *cellgraph.Session
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		src, err := cellgraph.OpenWorkbook(path)
		if err != nil {
			return nil, err
		}
		s = newSession(src)
	default:
		loaded, err := cellgraph.LoadFile(path, sessionOptions()...)
		if err != nil {
			return nil, err
		}
		s = loaded
	}
	for _, assign := range setValues {
		addr, text, ok := strings.Cut(assign, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q (want address=value)", assign)
		}
		if err := s.SetValue(addr, parseLiteral(text)); err != nil {
			return nil, fmt.Errorf("setting %s: %w", addr, err)
		}
	}
	return s, nil
}

func newSession(src cellgraph.Source) *cellgraph.Session {
	return cellgraph.NewSession(src, sessionOptions()...)
}

func sessionOptions() []cellgraph.Option {
	var opts []cellgraph.Option
	if cycles {
		opts = append(opts, cellgraph.WithCycles(maxIterations, tolerance))
	}
	if verbose {
		opts = append(opts, cellgraph.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	return opts
}

// parseLiteral types a --set value string the way a cell edit would.
func parseLiteral(text string) any {
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return n
	}
	switch strings.ToUpper(text) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return text
}

func asWarning(err error, warn **cellgraph.ConvergenceWarning) bool {
	return errors.As(err, warn)
}
