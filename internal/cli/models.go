package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/correlate/internal/model"
)

// ModelError is one problem found in a model directory.
type ModelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ModelsResult summarizes a valid model directory.
type ModelsResult struct {
	Valid    bool     `json:"valid"`
	Files    int      `json:"files"`
	Events   []string `json:"events"`
	Channels []string `json:"channels"`
}

func (r ModelsResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %d event(s), %d channel(s) in %d file(s)\n", len(r.Events), len(r.Channels), r.Files)
	if len(r.Events) > 0 {
		fmt.Fprintf(&b, "  events:   %s\n", strings.Join(r.Events, ", "))
	}
	if len(r.Channels) > 0 {
		fmt.Fprintf(&b, "  channels: %s\n", strings.Join(r.Channels, ", "))
	}
	return b.String()
}

// NewModelsCommand creates the models command group.
func NewModelsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Work with event and channel models",
	}
	cmd.AddCommand(newModelsValidateCommand(rootOpts))
	return cmd
}

func newModelsValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Compile and cross-check the CUE models in a directory",
		Long: `Compile the event and channel models in a directory and check that
every channel with a fixed event key references a declared event.

Exit codes:
  0 - models are valid
  1 - models have errors
  2 - command error

Example:
  correlate models validate ./models
  correlate models validate ./models --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsValidate(rootOpts, args[0], cmd)
		},
	}
}

func runModelsValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	set, errs := model.LoadDir(dir)
	if len(errs) > 0 {
		details := make([]ModelError, 0, len(errs))
		for _, err := range errs {
			details = append(details, toModelError(err))
		}

		if set == nil && len(details) == 1 && details[0].Code == model.CodeNotFound {
			return NewExitError(ExitCommandError, details[0].Message)
		}

		if f.Format == "json" {
			f.Error(details[0].Code, fmt.Sprintf("%d model error(s)", len(details)), details)
		} else {
			fmt.Fprintf(f.Writer, "✗ %d model error(s) in %s\n", len(details), dir)
			for _, d := range details {
				if d.File != "" {
					fmt.Fprintf(f.Writer, "  %s:%d: [%s] %s\n", d.File, d.Line, d.Code, d.Message)
				} else {
					fmt.Fprintf(f.Writer, "  [%s] %s\n", d.Code, d.Message)
				}
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("models in %s are invalid", dir))
	}

	f.VerboseLog("compiled %d CUE file(s) from %s", set.FileCount, dir)
	return f.Success(ModelsResult{
		Valid:    true,
		Files:    set.FileCount,
		Events:   set.EventKeys(),
		Channels: set.ChannelKeys(),
	})
}

func toModelError(err error) ModelError {
	var le *model.LoadError
	if !errors.As(err, &le) {
		return ModelError{Code: model.CodeGeneric, Message: err.Error()}
	}
	me := ModelError{Code: le.Code, Message: le.Message}
	if le.Pos.IsValid() {
		me.File = le.Pos.Filename()
		me.Line = le.Pos.Line()
	}
	return me
}
