package docs

import (
	"encoding/json"
	"fmt"
)

// Parse decodes rustdoc JSON bytes.
func Parse(data []byte) (*RustdocCrate, error) {
	var crate RustdocCrate
	if err := json.Unmarshal(data, &crate); err != nil {
		return nil, fmt.Errorf("unmarshaling rustdoc JSON: %w", err)
	}
	if _, ok := crate.Index[itemKey(crate.Root)]; !ok {
		return nil, fmt.Errorf("rustdoc JSON has no root item %d", crate.Root)
	}
	return &crate, nil
}

// Version returns the crate version recorded in the rustdoc output, or
// fallback when it is absent.
func (c *RustdocCrate) Version(fallback string) string {
	if c.CrateVersion != nil && *c.CrateVersion != "" {
		return *c.CrateVersion
	}
	return fallback
}

// innerKind extracts the kind from the inner JSON's single key.
func innerKind(inner json.RawMessage) string {
	if len(inner) == 0 {
		return "unknown"
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(inner, &outer); err != nil {
		// Unit-like kinds are encoded as a bare string.
		var s string
		if json.Unmarshal(inner, &s) == nil && s != "" {
			return s
		}
		return "unknown"
	}
	for k := range outer {
		return k
	}
	return "unknown"
}

// unwrapInner extracts the inner data for a given kind from a rustdoc Item's Inner field.
// Inner is shaped like {"struct": {...}} or {"enum": {...}}.
func unwrapInner(inner json.RawMessage, kind string) json.RawMessage {
	if len(inner) == 0 {
		return nil
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(inner, &outer); err != nil {
		return nil
	}
	data, ok := outer[kind]
	if !ok {
		return nil
	}
	return data
}
