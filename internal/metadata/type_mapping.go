package metadata

// TypeMapping maps a source type name to a local entity name. Inactive
// mappings are invisible to lookups.
type TypeMapping struct {
	ID          string `json:"id"`
	SourceType  string `json:"source_type"`
	LocalType   string `json:"local_type"`
	Active      bool   `json:"active"`
	Description string `json:"description,omitempty"`
}
