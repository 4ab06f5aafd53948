package types

// JSON Schema types emitted by inference.
const (
	SchemaObject  = "object"
	SchemaArray   = "array"
	SchemaString  = "string"
	SchemaNumber  = "number"
	SchemaBoolean = "boolean"
	SchemaNull    = "null"
)

// Schema is a recursive structural descriptor inferred from sample values.
type Schema struct {
	Type       string             `json:"type" yaml:"type"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Required   []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty" yaml:"enum,omitempty"`
}
