package ir

// FieldType is the declared type of an event model field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
)

// ValidFieldTypes lists the supported field types.
var ValidFieldTypes = map[FieldType]bool{
	FieldString:  true,
	FieldInteger: true,
	FieldBoolean: true,
}

// FieldDef declares one field of an event model.
type FieldDef struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// EventModel describes an event type: where it is deployed and which of
// its fields take part in correlation.
type EventModel struct {
	Key         string     `json:"key"`
	TenantID    string     `json:"tenant_id"`
	Correlation []FieldDef `json:"correlation"`
	Payload     []FieldDef `json:"payload"`
}

// Channel types.
const (
	ChannelRabbitMQ = "rabbitmq"
	ChannelKafka    = "kafka"
	ChannelHTTP     = "http"
)

// ChannelModel describes an inbound channel and how to detect the event
// key and the real tenant of a message received on it.
type ChannelModel struct {
	Key  string `json:"key"`
	Type string `json:"type"`

	// Event is a fixed event key; EventField names the JSON field holding
	// it. Exactly one is set.
	Event      string `json:"event,omitempty"`
	EventField string `json:"event_field,omitempty"`

	// Tenant is a fixed tenant; TenantField names the JSON field holding
	// it. Both empty means messages carry no tenant.
	Tenant      string `json:"tenant,omitempty"`
	TenantField string `json:"tenant_field,omitempty"`
}
