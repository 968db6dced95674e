package docs

import "encoding/json"

// RustdocCrate is the top-level structure of rustdoc JSON output.
type RustdocCrate struct {
	Root          int                    `json:"root"`
	CrateVersion  *string                `json:"crate_version"`
	Index         map[string]RustdocItem `json:"index"`
	FormatVersion int                    `json:"format_version"`
}

// RustdocItem is a single item in the rustdoc index.
type RustdocItem struct {
	ID      int             `json:"id"`
	CrateID int             `json:"crate_id"`
	Name    *string         `json:"name"`
	Docs    *string         `json:"docs"`
	Inner   json.RawMessage `json:"inner"`
}
