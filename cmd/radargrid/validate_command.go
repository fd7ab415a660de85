package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/artifact"
	"github.com/couchcryptid/radar-grid-etl/internal/config"
	"github.com/couchcryptid/radar-grid-etl/internal/pipeline"
)

// maxReported caps the per-phase errors printed.
const maxReported = 20

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var flags treeFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every scan has a complete artifact",
		Long: "Cross-check the source and destination trees: every scan must have an artifact, " +
			"every artifact must be readable with the configured grid shape, and no temporary files may remain.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.RequireRoots(); err != nil {
				return err
			}
			return validateTrees(cmd.OutOrStdout(), cfg)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.input, "input-format", "", "Scan format: uf or cfradial (INPUT_FORMAT)")
	cmd.Flags().StringVar(&flags.format, "format", "", "Artifact format: npz or nc (ARTIFACT_FORMAT)")
	return cmd
}

func validateTrees(out io.Writer, cfg *config.Config) error {
	scans, err := pipeline.ListScans(pipeline.Options{
		SourceRoot:    cfg.SourceRoot,
		MonthFilter:   cfg.MonthFilter,
		ScanExtension: cfg.ScanExtension,
	})
	if err != nil {
		return fmt.Errorf("list scans: %w", err)
	}

	ext := cfg.ArtifactExtension()
	coverage := &phase{name: "Every scan has an artifact"}
	readable := &phase{name: "Artifacts are readable"}
	shape := &phase{name: "Artifacts match the grid shape"}

	for _, rel := range scans {
		path := pipeline.ArtifactPath(cfg.DestRoot, rel, cfg.ScanExtension, ext)
		if _, err := os.Stat(path); err != nil {
			coverage.errorf("%s: no artifact at %s", rel, path)
			continue
		}
		res, err := artifact.Read(path)
		if err != nil {
			readable.errorf("%s: %v", path, err)
			continue
		}
		rows, cols := res.Dims()
		if rows != cfg.GridConfig.Rows() || cols != cfg.GridConfig.Cols() {
			shape.errorf("%s: shape %dx%d, want %dx%d", path, rows, cols, cfg.GridConfig.Rows(), cfg.GridConfig.Cols())
		}
		if len(res.Mask) != rows*cols {
			shape.errorf("%s: mask has %d cells, want %d", path, len(res.Mask), rows*cols)
		}
	}

	temps := &phase{name: "No temporary files remain"}
	if err := findTemps(cfg.DestRoot, temps); err != nil {
		return err
	}

	phases := []*phase{coverage, readable, shape, temps}
	rows := make([][]string, 0, len(phases))
	allPassed := true
	for _, p := range phases {
		status := text.FgGreen.Sprint("PASS")
		if !p.passed() {
			status = text.FgRed.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		rows = append(rows, []string{p.name, status})
	}
	fmt.Fprintln(out, renderTable([]string{"Check", "Result"}, rows, []columnAlignment{alignLeft, alignLeft}))
	fmt.Fprintf(out, "Scans: %d\n", len(scans))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReported {
				fmt.Fprintf(out, "  ... %d more\n", len(p.errors)-maxReported)
				break
			}
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if !allPassed {
		return errors.New("validation failed")
	}
	fmt.Fprintln(out, "\nAll validations passed.")
	return nil
}

// findTemps reports leftover temporary artifact files under root.
func findTemps(root string, p *phase) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name() == config.StateDir {
				return filepath.SkipDir
			}
			return nil
		}
		if artifact.IsTemp(d.Name()) {
			p.errorf("%s", path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
