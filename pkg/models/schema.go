package models

// JSONSchema represents a JSON Schema for node config validation
type JSONSchema struct {
	Type                 string               `json:"type"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
	Title                string               `json:"title,omitempty"`
	Description          string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property
type Property struct {
	Type        any                  `json:"type,omitempty"` // string or list of strings
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// ConfigSchema describes one (kind, subtype) config shape offered to the editor.
type ConfigSchema struct {
	Kind        Kind        `json:"kind"`
	Subtype     string      `json:"subtype,omitempty"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Default     Config      `json:"default"`
	Schema      *JSONSchema `json:"schema"`
}
