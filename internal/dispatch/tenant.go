package dispatch

import "github.com/roach88/correlate/internal/ir"

// LookupTenant returns the tenant filter for subscription lookups. Lookups
// are scoped by the tenant the event model was deployed to, never by the
// occurrence's own tenant: a model deployed without a tenant serves every
// tenant's events and matches globally.
func LookupTenant(modelTenantID string) ir.TenantFilter {
	if modelTenantID == ir.NoTenant {
		return ir.TenantFilter{}
	}
	return ir.ForTenant(modelTenantID)
}

// StartTenant returns the tenant of a case started by occ and, when the
// occurrence belongs to a different tenant than the one the model was
// deployed to, the tenant whose copy of the definition must be
// instantiated. Both are NoTenant for occurrences without a tenant.
func StartTenant(occ ir.Occurrence) (tenantID, overrideDefinitionTenantID string) {
	if occ.TenantID == ir.NoTenant {
		return ir.NoTenant, ir.NoTenant
	}
	if occ.TenantID != occ.ModelTenantID {
		return occ.TenantID, occ.TenantID
	}
	return occ.TenantID, ir.NoTenant
}
