package docs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

func intPtr(i int) *int { return &i }

const readExactRustdoc = `{
  "root": 0,
  "crate_version": "0.1.0",
  "format_version": 39,
  "index": {
    "0": {"id": 0, "crate_id": 0, "name": "read_exact",
          "docs": "Provides a variant of ` + "`read_exact`" + ` that succeeds on EOF if no data has been\nread.\n\n# Example\n\n` + "```\\nlet x = 1;\\n```" + `",
          "inner": {"module": {"is_crate": true, "items": [1], "is_stripped": false}}},
    "1": {"id": 1, "crate_id": 0, "name": "ReadExactExt",
          "docs": "An extension trait that applies to all ` + "`std::io::Read`" + ` types.",
          "inner": {"trait": {"is_auto": false, "is_unsafe": false, "items": [2], "implementations": [3]}}},
    "2": {"id": 2, "crate_id": 0, "name": "read_exact_or_eof",
          "docs": "Reads exactly the number of bytes to fill ` + "`buf`" + `, or zero.\n\nThis function returns ` + "`true`" + ` upon successful read.",
          "inner": {"function": {"has_body": false}}},
    "3": {"id": 3, "crate_id": 0, "name": null, "docs": null,
          "inner": {"impl": {"trait": {"name": "ReadExactExt", "id": 1}, "items": [4], "is_synthetic": false}}},
    "4": {"id": 4, "crate_id": 0, "name": "read_exact_or_eof", "docs": null,
          "inner": {"function": {"has_body": true}}}
  },
  "paths": {
    "1": {"crate_id": 0, "path": ["read_exact", "ReadExactExt"], "kind": "trait"}
  }
}`

func TestBuildCrateDoc_ReadExact(t *testing.T) {
	crate, err := Parse([]byte(readExactRustdoc))
	if err != nil {
		t.Fatal(err)
	}
	if got := crate.Version("latest"); got != "0.1.0" {
		t.Errorf("Version() = %q", got)
	}

	name, doc, err := BuildCrateDoc(crate)
	if err != nil {
		t.Fatal(err)
	}
	if name != "read_exact" {
		t.Errorf("name = %q", name)
	}

	want := searchindex.CrateDoc{
		Doc: "Provides a variant of `read_exact` that succeeds on EOF if no data has been read.",
		Items: []searchindex.Item{
			{Kind: searchindex.Trait, Name: "ReadExactExt", Path: "read_exact", Desc: "An extension trait that applies to all `std::io::Read` types."},
			{Kind: searchindex.TyMethod, Name: "read_exact_or_eof", Path: "read_exact", Desc: "Reads exactly the number of bytes to fill `buf`, or zero.", Parent: intPtr(0)},
		},
		Paths: []searchindex.Path{{Kind: searchindex.Trait, Name: "ReadExactExt"}},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("crate doc mismatch (-want +got):\n%s", diff)
	}
}

const mixedRustdoc = `{
  "root": 0,
  "format_version": 39,
  "index": {
    "0": {"id": 0, "crate_id": 0, "name": "mixed", "docs": "Mixed bag.",
          "inner": {"module": {"is_crate": true, "items": [1, 2, 3, 20, 30, 40]}}},
    "1": {"id": 1, "crate_id": 0, "name": "Buffer", "docs": "A buffer.",
          "inner": {"struct": {"kind": {"plain": {"fields": [10, 11], "has_stripped_fields": false}}, "impls": [12, 15]}}},
    "10": {"id": 10, "crate_id": 0, "name": "len", "docs": "Length.", "inner": {"struct_field": {}}},
    "11": {"id": 11, "crate_id": 0, "name": "cap", "docs": null, "inner": {"struct_field": {}}},
    "12": {"id": 12, "crate_id": 0, "name": null, "inner": {"impl": {"trait": null, "items": [13, 14], "is_synthetic": false}}},
    "13": {"id": 13, "crate_id": 0, "name": "new", "docs": "Creates a buffer.", "inner": {"function": {"has_body": true}}},
    "14": {"id": 14, "crate_id": 0, "name": "MAX", "docs": null, "inner": {"assoc_const": {}}},
    "15": {"id": 15, "crate_id": 0, "name": null, "inner": {"impl": {"trait": {"name": "Clone", "id": 99}, "items": [16]}}},
    "16": {"id": 16, "crate_id": 0, "name": "clone", "inner": {"function": {"has_body": true}}},
    "2": {"id": 2, "crate_id": 0, "name": "Mode", "docs": "Modes.",
          "inner": {"enum": {"variants": [21, 22], "impls": []}}},
    "21": {"id": 21, "crate_id": 0, "name": "Fast", "docs": "Go fast.", "inner": {"variant": {}}},
    "22": {"id": 22, "crate_id": 0, "name": "Slow", "inner": {"variant": {}}},
    "3": {"id": 3, "crate_id": 0, "name": "io", "docs": "I/O helpers.",
          "inner": {"module": {"items": [31, 32]}}},
    "31": {"id": 31, "crate_id": 0, "name": "copy", "docs": "Copies bytes.", "inner": {"function": {"has_body": true}}},
    "32": {"id": 32, "crate_id": 0, "name": "Sink", "docs": null,
           "inner": {"trait": {"items": [33, 34]}}},
    "33": {"id": 33, "crate_id": 0, "name": "Item", "inner": {"assoc_type": {}}},
    "34": {"id": 34, "crate_id": 0, "name": "flush", "docs": "Flushes.", "inner": {"function": {"has_body": true}}},
    "20": {"id": 20, "crate_id": 0, "name": "reexported", "inner": {"use": {"source": "other::thing"}}},
    "30": {"id": 30, "crate_id": 1, "name": "Foreign", "inner": {"struct": {"kind": "unit", "impls": []}}},
    "40": {"id": 40, "crate_id": 0, "name": "Unit", "docs": "Nothing inside.", "inner": {"struct": {"kind": "unit", "impls": []}}}
  },
  "paths": {}
}`

func TestBuildCrateDoc_Mixed(t *testing.T) {
	crate, err := Parse([]byte(mixedRustdoc))
	if err != nil {
		t.Fatal(err)
	}
	if got := crate.Version("latest"); got != "latest" {
		t.Errorf("Version() fallback = %q", got)
	}

	name, doc, err := BuildCrateDoc(crate)
	if err != nil {
		t.Fatal(err)
	}
	if name != "mixed" {
		t.Errorf("name = %q", name)
	}

	want := searchindex.CrateDoc{
		Doc: "Mixed bag.",
		Items: []searchindex.Item{
			{Kind: searchindex.Struct, Name: "Buffer", Path: "mixed", Desc: "A buffer."},
			{Kind: searchindex.StructField, Name: "len", Path: "mixed", Desc: "Length.", Parent: intPtr(0)},
			{Kind: searchindex.StructField, Name: "cap", Path: "mixed", Parent: intPtr(0)},
			{Kind: searchindex.Method, Name: "new", Path: "mixed", Desc: "Creates a buffer.", Parent: intPtr(0)},
			{Kind: searchindex.AssocConst, Name: "MAX", Path: "mixed", Parent: intPtr(0)},
			{Kind: searchindex.Enum, Name: "Mode", Path: "mixed", Desc: "Modes."},
			{Kind: searchindex.Variant, Name: "Fast", Path: "mixed", Desc: "Go fast.", Parent: intPtr(1)},
			{Kind: searchindex.Variant, Name: "Slow", Path: "mixed", Parent: intPtr(1)},
			{Kind: searchindex.Module, Name: "io", Path: "mixed", Desc: "I/O helpers."},
			{Kind: searchindex.Function, Name: "copy", Path: "mixed::io", Desc: "Copies bytes."},
			{Kind: searchindex.Trait, Name: "Sink", Path: "mixed::io"},
			{Kind: searchindex.AssocType, Name: "Item", Path: "mixed::io", Parent: intPtr(2)},
			{Kind: searchindex.Method, Name: "flush", Path: "mixed::io", Desc: "Flushes.", Parent: intPtr(2)},
			{Kind: searchindex.Struct, Name: "Unit", Path: "mixed", Desc: "Nothing inside."},
		},
		Paths: []searchindex.Path{
			{Kind: searchindex.Struct, Name: "Buffer"},
			{Kind: searchindex.Enum, Name: "Mode"},
			{Kind: searchindex.Trait, Name: "Sink"},
		},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("crate doc mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := Parse([]byte(`{"root": 5, "index": {}}`)); err == nil {
		t.Error("expected error for missing root item")
	}
}

func TestBuildCrateDoc_RootNotModule(t *testing.T) {
	crate, err := Parse([]byte(`{"root": 0, "index": {"0": {"id": 0, "crate_id": 0, "name": "x", "inner": {"function": {}}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := BuildCrateDoc(crate); err == nil {
		t.Error("expected error when root is not a module")
	}
}

func TestInnerKind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"trait": {}}`, "trait"},
		{`"unit"`, "unit"},
		{``, "unknown"},
		{`{}`, "unknown"},
		{`42`, "unknown"},
	}
	for _, tt := range tests {
		if got := innerKind([]byte(tt.in)); got != tt.want {
			t.Errorf("innerKind(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildCrateDoc_KindFromInner(t *testing.T) {
	// The paths table disagrees with the item; the item's own kind wins.
	crate, err := Parse([]byte(`{
  "root": 0,
  "index": {
    "0": {"id": 0, "crate_id": 0, "name": "k", "inner": {"module": {"is_crate": true, "items": [1]}}},
    "1": {"id": 1, "crate_id": 0, "name": "Shape", "inner": {"trait": {"items": []}}}
  },
  "paths": {"1": {"crate_id": 0, "path": ["k", "Shape"], "kind": "struct"}}
}`))
	if err != nil {
		t.Fatal(err)
	}
	_, doc, err := BuildCrateDoc(crate)
	if err != nil {
		t.Fatal(err)
	}
	want := []searchindex.Item{{Kind: searchindex.Trait, Name: "Shape", Path: "k"}}
	if diff := cmp.Diff(want, doc.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}
