// Package rpc holds the JSON bodies exchanged with the HTTP server.
package rpc

import (
	"time"

	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/indexer"
)

// BuildRequest is the request body for POST /build.
type BuildRequest struct {
	Crates []CrateSpec `json:"crates"`
	Force  bool        `json:"force,omitempty"`
}

type CrateSpec struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the build endpoint.
type ProgressLine struct {
	Type    string          `json:"type"` // "progress", "result" or "error"
	Message string          `json:"message,omitempty"`
	Result  *indexer.Result `json:"result,omitempty"`
}

// CratesResponse is the response body for GET /crates.
type CratesResponse struct {
	Crates []CrateInfo `json:"crates"`
}

type CrateInfo struct {
	Name    string    `json:"name"`
	Package string    `json:"package,omitempty"`
	Version string    `json:"version"`
	Doc     string    `json:"doc"`
	Items   int       `json:"items"`
	BuiltAt time.Time `json:"built_at"`
}

// FindResponse is the response body for GET /find.
type FindResponse struct {
	Matches []db.Match `json:"matches"`
}

// RemoveResponse is the response body for DELETE /crates/{name}.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// CrateInfoFrom converts a stored crate row for the API.
func CrateInfoFrom(c db.Crate) CrateInfo {
	return CrateInfo{Name: c.Name, Package: c.Package, Version: c.Version, Doc: c.Doc, Items: c.ItemCount, BuiltAt: c.BuiltAt}
}
