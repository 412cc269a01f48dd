package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomjrwilliams/xsm/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Model    string                     `json:"model,omitempty"`
	Variants int                        `json:"variants"`
	Seeds    int                        `json:"seeds"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model-dir>",
		Short: "Validate a model without running it",
		Long: `Compile and validate the CUE model in a directory.

Reports structural errors (E1xx codes) and feedback loops between
variants. Loops are warnings: a loop with no match bound or retirement
only stops at the tick budget or timeout.

Exit codes:
  0 - Model is valid (warnings may be printed)
  1 - Validation errors
  2 - Command error (directory missing, CUE syntax, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, modelDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loaded, err := LoadModel(modelDir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Error(), nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.Files, modelDir)
	for _, v := range loaded.Model.Variants {
		formatter.VerboseLog("Validating variant: %s", v.Name)
	}

	result := ValidationResult{
		Model:    loaded.Model.Name,
		Variants: len(loaded.Model.Variants),
		Seeds:    len(loaded.Model.Seeds),
		Errors:   compiler.Validate(loaded.Model),
	}
	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}

	result.Valid = true
	result.Warnings = compiler.AnalyzeCycles(loaded.Model.Variants)
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "! %s: %s\n", warn.Level, warn.Message)
	}
	fmt.Fprintf(w, "✓ Model %s valid (%d variant(s), %d seed(s))\n", result.Model, result.Variants, result.Seeds)
	return nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, message)
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
