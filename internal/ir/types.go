package ir

// NoTenant is the tenant id of definitions and events that are not bound
// to a tenant. Subscription lookups for a model deployed without a tenant
// are not tenant filtered.
const NoTenant = ""

// ScopeTypeCase tags subscriptions owned by the case engine.
const ScopeTypeCase = "cmmn"

// ReferenceTypeEventCase tags case instances started by an event whose
// definition stores the correlation key as a unique business reference.
const ReferenceTypeEventCase = "event-to-case"

// StartCorrelationConfigurationKey is the definition extension holding the
// start-correlation policy.
const StartCorrelationConfigurationKey = "startEventCorrelationConfiguration"

// StartCorrelationStoreAsUniqueReferenceID is the policy value that turns on
// start deduplication by business reference.
const StartCorrelationStoreAsUniqueReferenceID = "storeAsUniqueReferenceId"

// EventInstanceVariable names the transient input that carries the
// occurrence into a resumed or started case.
const EventInstanceVariable = "eventInstance"

// Parameter is one named, typed field of an occurrence.
type Parameter struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Occurrence is one received event after deserialization against its
// event model. It is created per delivery and never persisted.
type Occurrence struct {
	ID string `json:"id"`

	// ModelKey is the event type as declared by the event model.
	ModelKey string `json:"model_key"`

	// ModelTenantID is the tenant the event model was deployed to.
	// It may be NoTenant for models shared across tenants.
	ModelTenantID string `json:"model_tenant_id"`

	// TenantID is the tenant the business event belongs to.
	TenantID string `json:"tenant_id"`

	// CorrelationParameters are the fields declared as correlation
	// parameters by the event model, in declaration order.
	CorrelationParameters []Parameter `json:"correlation_parameters"`

	// Payload is forwarded verbatim to resumed or started cases.
	Payload []Parameter `json:"payload"`

	// ChannelKey and Raw describe where the occurrence came from.
	ChannelKey string `json:"channel_key,omitempty"`
	Raw        string `json:"-"`
}

// Subscription is a stored interest in an event type. Only one of the
// scope pointers is meaningful at a time; Classify maps the combination to
// a Disposition.
type Subscription struct {
	ID                string  `json:"id"`
	EventType         string  `json:"event_type"`
	TenantID          string  `json:"tenant_id"`
	ScopeType         string  `json:"scope_type"`
	Configuration     *string `json:"configuration,omitempty"`
	SubScopeID        *string `json:"sub_scope_id,omitempty"`
	ScopeID           *string `json:"scope_id,omitempty"`
	ScopeDefinitionID *string `json:"scope_definition_id,omitempty"`
	Seq               int64   `json:"seq"`
}

// TenantFilter restricts a subscription lookup to one tenant. The zero
// value applies no tenant filter.
type TenantFilter struct {
	TenantID string
	Apply    bool
}

// ForTenant returns a filter matching exactly tenantID.
func ForTenant(tenantID string) TenantFilter {
	return TenantFilter{TenantID: tenantID, Apply: true}
}

// SubscriptionQuery describes one subscription lookup. Exactly one of
// WithoutConfiguration or Configurations is used by a well-formed query.
type SubscriptionQuery struct {
	EventType            string
	ScopeType            string
	Tenant               TenantFilter
	WithoutConfiguration bool
	Configurations       []string
}

// TransientInput is handed to a resumed or started case and is never
// stored by this engine.
type TransientInput struct {
	Name       string
	Occurrence Occurrence
}

// EventInput wraps an occurrence as the named event-instance input.
func EventInput(occ Occurrence) TransientInput {
	return TransientInput{Name: EventInstanceVariable, Occurrence: occ}
}

// StartRequest asks the case runtime to start a new case instance.
type StartRequest struct {
	DefinitionID string

	// TenantID is the tenant of the new instance (the occurrence's tenant).
	TenantID string

	// OverrideDefinitionTenantID selects the tenant-scoped copy of the
	// definition when the occurrence tenant differs from the model tenant.
	OverrideDefinitionTenantID string

	Input TransientInput

	ReferenceID   string
	ReferenceType string
}

// CaseInstance is the stored record of a started case.
type CaseInstance struct {
	ID                       string `json:"id"`
	DefinitionID             string `json:"definition_id"`
	TenantID                 string `json:"tenant_id"`
	DefinitionTenantOverride string `json:"definition_tenant_override,omitempty"`
	ReferenceID              string `json:"reference_id,omitempty"`
	ReferenceType            string `json:"reference_type,omitempty"`
	State                    string `json:"state"`
	CreatedSeq               int64  `json:"created_seq"`
	StartedSeq               int64  `json:"started_seq,omitempty"`
}

// Case instance states.
const (
	CaseStatePending = "pending"
	CaseStateActive  = "active"
)

// Plan item states.
const (
	PlanItemWaiting   = "waiting"
	PlanItemTriggered = "triggered"
)

// CaseDefinition is a deployed case definition.
type CaseDefinition struct {
	ID         string
	Key        string
	TenantID   string
	Version    int
	Extensions []Extension
}

// Extension is one extension element declared on a definition. Several
// elements may share a name; the first declared one wins on lookup.
type Extension struct {
	Name string
	Text string
}

// PlanItem is a point in a running case; a waiting plan item is resumed by
// a subscription with a SubScopeID.
type PlanItem struct {
	ID             string
	CaseInstanceID string
	State          string
}

// Ptr returns a pointer to s. Convenient for optional subscription fields.
func Ptr(s string) *string {
	return &s
}
