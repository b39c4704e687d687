package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/registry"
	"github.com/roach88/correlate/internal/runtime"
)

// DeliverResult reports what one delivered message did.
type DeliverResult struct {
	Channel      string   `json:"channel"`
	OccurrenceID string   `json:"occurrence_id"`
	EventType    string   `json:"event_type"`
	TenantID     string   `json:"tenant_id,omitempty"`
	Resumed      []string `json:"resumed"`
	Started      []string `json:"started"`
}

func (r DeliverResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Delivered %s on %s as %s\n", r.EventType, r.Channel, r.OccurrenceID)
	for _, id := range r.Resumed {
		fmt.Fprintf(&b, "  resumed plan item %s\n", id)
	}
	for _, id := range r.Started {
		fmt.Fprintf(&b, "  started case %s\n", id)
	}
	if len(r.Resumed) == 0 && len(r.Started) == 0 {
		b.WriteString("  no subscription matched\n")
	}
	return b.String()
}

// NewDeliverCommand creates the deliver command.
func NewDeliverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <channel> [file]",
		Short: "Deliver one message to a channel",
		Long: `Deliver one JSON message to a channel, as if a bridge had received it,
and wait until the cases it started are initialized.

The message is read from file, or from stdin when no file is given.

Example:
  correlate deliver orders order.json
  echo '{"type":"orderPaid","orderId":7}' | correlate deliver orders`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 2 {
				file = args[1]
			}
			return runDeliver(rootOpts, args[0], file, cmd)
		},
	}
}

func runDeliver(opts *RootOptions, channel, file string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	text, err := readMessage(file, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read message", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// hooks run on the Run goroutine (started) and on this goroutine
	// (resumed); results are read after Run returned.
	var mu sync.Mutex
	result := DeliverResult{Channel: channel, Resumed: []string{}, Started: []string{}}
	a, err := newApp(ctx, cfg,
		runtime.WithResumedHook(func(_ context.Context, item ir.PlanItem, _ ir.TransientInput) {
			mu.Lock()
			defer mu.Unlock()
			result.Resumed = append(result.Resumed, item.ID)
		}),
		runtime.WithStartedHook(func(_ context.Context, inst ir.CaseInstance, _ ir.TransientInput) {
			mu.Lock()
			defer mu.Unlock()
			result.Started = append(result.Started, inst.ID)
		}),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.runtime.Run(ctx) }()

	occ, deliverErr := a.registry.EventReceived(ctx, channel, text)

	a.runtime.Stop()
	if err := <-done; err != nil {
		return WrapExitError(ExitFailure, "case runtime failed", err)
	}

	if deliverErr != nil {
		f.Error(deliverCode(deliverErr), deliverErr.Error(), nil)
		return WrapExitError(ExitFailure, "delivery failed", deliverErr)
	}

	mu.Lock()
	defer mu.Unlock()
	result.OccurrenceID = occ.ID
	result.EventType = occ.ModelKey
	result.TenantID = occ.TenantID
	return f.Success(result)
}

func readMessage(file string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "" || file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("message is empty")
	}
	return text, nil
}

func deliverCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrUnknownChannel):
		return "unknown_channel"
	case errors.Is(err, registry.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, registry.ErrMalformedEvent):
		return "malformed_event"
	default:
		return "dispatch_failed"
	}
}
