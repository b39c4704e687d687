package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/correlate/internal/ir"
	"github.com/roach88/correlate/internal/runtime"
	"github.com/roach88/correlate/internal/store"
)

// writeConfig writes a config using a temp store and the model testdata.
func writeConfig(t *testing.T) (configPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	models, err := filepath.Abs("../model/testdata/models")
	require.NoError(t, err)

	storePath = filepath.Join(dir, "correlate.db")
	configPath = filepath.Join(dir, "correlate.yaml")
	content := fmt.Sprintf("store:\n  path: %s\nmodels:\n  dir: %s\nlog:\n  level: error\n", storePath, models)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, storePath
}

// seed deploys a definition starting on orderPlaced and a plan item
// waiting for the payment of order 7.
func seed(t *testing.T, storePath string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(storePath)
	require.NoError(t, err)
	defer st.Close()

	rt, err := runtime.New(st)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx,
		ir.CaseDefinition{ID: "order-case", Key: "order", Version: 1},
		ir.Subscription{ID: "start-order", EventType: "orderPlaced", ScopeDefinitionID: ir.Ptr("order-case")},
	))
	require.NoError(t, rt.Wait(ctx,
		ir.PlanItem{ID: "pi-1", CaseInstanceID: "case-0"},
		ir.Subscription{
			ID:            "wait-pi-1",
			EventType:     "orderPaid",
			SubScopeID:    ir.Ptr("pi-1"),
			ScopeID:       ir.Ptr("case-0"),
			Configuration: ir.Ptr(ir.MustCorrelationKeyValue(ir.Parameter{Name: "orderId", Value: ir.Int(7)})),
		},
	))
}

func executeWithStdin(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type deliverResponse struct {
	Status string        `json:"status"`
	Data   DeliverResult `json:"data"`
}

func TestDeliver_StartsCase(t *testing.T) {
	cfg, storePath := writeConfig(t)
	seed(t, storePath)

	out, err := executeWithStdin(t,
		`{"type":"orderPlaced","tenantId":"acme","customerId":"c-1","orderId":7}`,
		"deliver", "orders", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var resp deliverResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "orderPlaced", resp.Data.EventType)
	assert.Equal(t, "acme", resp.Data.TenantID)
	assert.NotEmpty(t, resp.Data.OccurrenceID)
	assert.Len(t, resp.Data.Started, 1, "Run drains the start before deliver returns")
	assert.Empty(t, resp.Data.Resumed)
}

func TestDeliver_ResumesFromFile(t *testing.T) {
	cfg, storePath := writeConfig(t)
	seed(t, storePath)

	msg := filepath.Join(t.TempDir(), "paid.json")
	require.NoError(t, os.WriteFile(msg, []byte(`{"orderId":7}`), 0o644))

	out, err := executeWithStdin(t, "", "deliver", "payments", msg, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Delivered orderPaid on payments")
	assert.Contains(t, out, "resumed plan item pi-1")

	// the wait subscription was consumed
	out, err = executeWithStdin(t, "", "deliver", "payments", msg, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "no subscription matched")
}

func TestDeliver_UnknownChannel(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := executeWithStdin(t, `{"orderId":7}`, "deliver", "returns", "--config", cfg, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unknown_channel", resp.Error.Code)
}

func TestDeliver_EmptyMessage(t *testing.T) {
	cfg, _ := writeConfig(t)

	_, err := executeWithStdin(t, "  \n", "deliver", "orders", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "message is empty")
}

func TestDeliver_MissingConfig(t *testing.T) {
	_, err := executeWithStdin(t, `{}`, "deliver", "orders", "--config", "/nonexistent/correlate.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
