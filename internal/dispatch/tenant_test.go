package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/correlate/internal/ir"
)

func TestLookupTenant(t *testing.T) {
	assert.Equal(t, ir.TenantFilter{}, LookupTenant(ir.NoTenant))
	assert.Equal(t, ir.ForTenant("default"), LookupTenant("default"))
}

func TestStartTenant(t *testing.T) {
	tests := []struct {
		name                     string
		modelTenant, occTenant   string
		wantTenant, wantOverride string
	}{
		{"no tenant anywhere", "", "", "", ""},
		{"same tenant", "acme", "acme", "acme", ""},
		{"shared model serves tenant", "", "acme", "acme", "acme"},
		{"tenant split", "default", "acme", "acme", "acme"},
		{"tenantless event on tenant model", "acme", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant, override := StartTenant(ir.Occurrence{ModelTenantID: tt.modelTenant, TenantID: tt.occTenant})
			assert.Equal(t, tt.wantTenant, tenant)
			assert.Equal(t, tt.wantOverride, override)
		})
	}
}
