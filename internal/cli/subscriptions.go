package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/store"
)

// SubscriptionRow is one stored subscription as listed by the CLI.
type SubscriptionRow struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	TenantID      string `json:"tenant_id,omitempty"`
	Disposition   string `json:"disposition"`
	Target        string `json:"target,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	Seq           int64  `json:"seq"`
}

// SubscriptionList is the result of subscriptions list.
type SubscriptionList struct {
	Subscriptions []SubscriptionRow `json:"subscriptions"`
}

func (l SubscriptionList) Text() string {
	if len(l.Subscriptions) == 0 {
		return "No subscriptions.\n"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tTENANT\tDISPOSITION\tTARGET\tCORRELATED")
	for _, s := range l.Subscriptions {
		correlated := "no"
		if s.Configuration != "" {
			correlated = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.EventType, s.TenantID, s.Disposition, s.Target, correlated)
	}
	tw.Flush()
	return b.String()
}

// NewSubscriptionsCommand creates the subscriptions command group.
func NewSubscriptionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect stored event subscriptions",
	}
	cmd.AddCommand(newSubscriptionsListCommand(rootOpts))
	return cmd
}

func newSubscriptionsListCommand(rootOpts *RootOptions) *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions and what an event would do with them",
		Long: `List the subscriptions in the configured store. The disposition column
shows whether a matching event resumes a plan item, starts a case or is
ignored.

Example:
  correlate subscriptions list --config correlate.yaml
  correlate subscriptions list --event orderPaid --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscriptionsList(rootOpts, event, cmd)
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "only list subscriptions for this event type")
	return cmd
}

func runSubscriptionsList(opts *RootOptions, event string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	var subs []ir.Subscription
	err = st.Execute(ctx, func(tx *store.Tx) error {
		var err error
		subs, err = tx.ListSubscriptions(ctx, event)
		return err
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list subscriptions", err)
	}

	f.VerboseLog("%d subscription(s) in %s", len(subs), cfg.Store.Path)

	list := SubscriptionList{Subscriptions: make([]SubscriptionRow, 0, len(subs))}
	for _, s := range subs {
		list.Subscriptions = append(list.Subscriptions, subscriptionRow(s))
	}
	return f.Success(list)
}

func subscriptionRow(s ir.Subscription) SubscriptionRow {
	d := ir.Classify(s)
	row := SubscriptionRow{
		ID:          s.ID,
		EventType:   s.EventType,
		TenantID:    s.TenantID,
		Disposition: d.Kind.String(),
		Seq:         s.Seq,
	}
	switch d.Kind {
	case ir.DispositionResume:
		row.Target = d.SubScopeID
	case ir.DispositionStartNew:
		row.Target = d.ScopeDefinitionID
	}
	if s.Configuration != nil {
		row.Configuration = *s.Configuration
	}
	return row
}
