package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/harness"
)

// FileValidation is the result for one scenario file.
type FileValidation struct {
	File     string `json:"file"`
	Scenario string `json:"scenario,omitempty"`
	Actors   int    `json:"actors,omitempty"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate scenario files without running them",
		Long: `Parse and validate scenario files. YAML and CUE files are both
accepted; unknown fields, unknown actions, wrong argument counts and
assertions that name missing actors are all reported.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		fv := FileValidation{File: file}
		sc, err := harness.LoadScenario(file)
		if err != nil {
			fv.Error = err.Error()
			result.Valid = false
		} else {
			fv.Valid = true
			fv.Scenario = sc.Name
			fv.Actors = len(sc.Actors)
		}
		result.Files = append(result.Files, fv)
	}

	if formatter.isJSON() {
		if !result.Valid {
			if err := formatter.Failure(ErrCodeInvalid, "validation failed", result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "validation failed")
		}
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "✓ %s (%s, %d actors)\n", fv.File, fv.Scenario, fv.Actors)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n  %s\n", fv.File, fv.Error)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}
