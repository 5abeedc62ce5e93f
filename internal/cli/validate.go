package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iml130/mf-plugin/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Hash     string                     `json:"hash,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program.cue>",
		Short: "Statically check a program",
		Long: `Compile a CUE program document and check it without running it.

Reports unresolved references, unknown steps, tasks and rules, rule
arity errors, orders that need an entity before any transport, and
invalid Time timings. Rules and tasks that can reach themselves are
reported as warnings.

Exit codes:
  0 - Program is valid (warnings allowed)
  1 - Program has validation errors
  2 - Program could not be read or compiled`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	res, err := LoadProgram(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Error(), nil)
		} else {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "failed to load program", err)
	}
	formatter.VerboseLog("Compiled %s (hash %s)", path, res.Program.Hash)

	result := ValidationResult{
		Valid:    res.Valid(),
		Hash:     res.Program.Hash,
		Errors:   res.Errors,
		Warnings: res.Warnings,
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintln(w, "✓ Program valid")
	writeWarnings(formatter, result.Warnings)
	return nil
}

// outputValidationErrors reports the errors and returns an ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	msg := fmt.Sprintf("validation failed with %d error(s)", len(errs))
	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range errs {
		fmt.Fprintf(w, "  %s %s: %s\n", e.Code, e.Field, e.Message)
	}
	writeWarnings(formatter, result.Warnings)
	return NewExitError(ExitFailure, msg)
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}
}
