package searchindex

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func intPtr(i int) *int { return &i }

func readExactIndex() Index {
	return Index{
		"read_exact": CrateDoc{
			Doc: "Provides a variant of `read_exact` that succeeds on EOF if no data has been read.",
			Items: []Item{
				{Kind: Trait, Name: "ReadExactExt", Path: "read_exact", Desc: "An extension trait that applies to all `std::io::Read` types."},
				{Kind: TyMethod, Name: "read_exact_or_eof", Path: "read_exact", Desc: "Reads exactly the number of bytes to fill `buf`, or zero.", Parent: intPtr(0)},
			},
			Paths: []Path{{Kind: Trait, Name: "ReadExactExt"}},
		},
	}
}

const readExactJS = `var searchIndex = {};
searchIndex["read_exact"] = {"doc":"Provides a variant of ` + "`read_exact`" + ` that succeeds on EOF if no data has been read.","items":[[8,"ReadExactExt","read_exact","An extension trait that applies to all ` + "`std::io::Read`" + ` types.",null,null],[10,"read_exact_or_eof","","Reads exactly the number of bytes to fill ` + "`buf`" + `, or zero.",0,null]],"paths":[[8,"ReadExactExt"]]};
initSearch(searchIndex);
`

func TestWriteJS(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJS(&buf, readExactIndex()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(readExactJS, buf.String()); diff != "" {
		t.Errorf("script mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJS(t *testing.T) {
	got, err := ParseJS(strings.NewReader(readExactJS))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(readExactIndex(), got); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJS_CrateOrderAndItemOrder(t *testing.T) {
	idx := Index{
		"zeta": {Items: []Item{
			{Kind: Function, Name: "b", Path: "zeta"},
			{Kind: Function, Name: "a", Path: "zeta::inner"},
			{Kind: Function, Name: "c", Path: "zeta::inner"},
		}},
		"alpha": {Doc: "first"},
	}
	var buf bytes.Buffer
	if err := WriteJS(&buf, idx); err != nil {
		t.Fatal(err)
	}
	script := buf.String()
	if strings.Index(script, `["alpha"]`) > strings.Index(script, `["zeta"]`) {
		t.Errorf("crates not written in name order:\n%s", script)
	}

	got, err := ParseJS(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, it := range got["zeta"].Items {
		names = append(names, it.Name)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, names); diff != "" {
		t.Errorf("item order changed (-want +got):\n%s", diff)
	}
}

func TestCrateDoc_PathElision(t *testing.T) {
	doc := CrateDoc{Items: []Item{
		{Kind: Struct, Name: "A", Path: "c::m"},
		{Kind: Struct, Name: "B", Path: "c::m"},
		{Kind: Struct, Name: "C", Path: "c"},
		{Kind: Struct, Name: "D", Path: "c"},
	}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"doc":"","items":[[3,"A","c::m","",null,null],[3,"B","","",null,null],[3,"C","c","",null,null],[3,"D","","",null,null]],"paths":[]}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}

	var back CrateDoc
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(doc.Items, back.Items); diff != "" {
		t.Errorf("paths not restored (-want +got):\n%s", diff)
	}
}

func TestItem_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Item
		wantErr bool
	}{
		{
			name: "full tuple",
			in:   `[11,"read","std::io","Pull bytes.",3,{"i":[1],"o":[2]}]`,
			want: Item{Kind: Method, Name: "read", Path: "std::io", Desc: "Pull bytes.", Parent: intPtr(3), SearchType: json.RawMessage(`{"i":[1],"o":[2]}`)},
		},
		{
			name: "four fields",
			in:   `[5,"spawn","tokio","Spawns a task."]`,
			want: Item{Kind: Function, Name: "spawn", Path: "tokio", Desc: "Spawns a task."},
		},
		{
			name: "null parent and type",
			in:   `[8,"Read","std::io","",null,null]`,
			want: Item{Kind: Trait, Name: "Read", Path: "std::io"},
		},
		{name: "too short", in: `[8,"Read","std::io"]`, wantErr: true},
		{name: "too long", in: `[8,"Read","std::io","",null,null,1]`, wantErr: true},
		{name: "bad kind", in: `["trait","Read","std::io",""]`, wantErr: true},
		{name: "bad parent", in: `[8,"Read","std::io","","x",null]`, wantErr: true},
		{name: "not an array", in: `{"kind":8}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Item
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPath_UnmarshalJSON(t *testing.T) {
	var p Path
	if err := json.Unmarshal([]byte(`[3,"Buffer"]`), &p); err != nil {
		t.Fatal(err)
	}
	if p != (Path{Kind: Struct, Name: "Buffer"}) {
		t.Errorf("got %+v", p)
	}
	if err := json.Unmarshal([]byte(`[3]`), &p); err == nil {
		t.Error("expected error for one-field path")
	}
}

func TestParseJS_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		is     error
	}{
		{
			name:   "duplicate crate",
			script: "var searchIndex = {};\nsearchIndex[\"a\"] = {\"doc\":\"\",\"items\":[],\"paths\":[]};\nsearchIndex[\"a\"] = {\"doc\":\"\",\"items\":[],\"paths\":[]};\ninitSearch(searchIndex);\n",
			is:     ErrDuplicateCrate,
		},
		{
			name:   "missing init",
			script: "var searchIndex = {};\nsearchIndex[\"a\"] = {\"doc\":\"\",\"items\":[],\"paths\":[]};\n",
			is:     ErrNoInitCall,
		},
		{name: "empty script", script: "", is: ErrNoInitCall},
		{name: "statement after init", script: "initSearch(searchIndex);\nsearchIndex[\"a\"] = {};\n"},
		{name: "unknown statement", script: "alert(1);\ninitSearch(searchIndex);\n"},
		{name: "bad key", script: "searchIndex[a] = {};\ninitSearch(searchIndex);\n"},
		{name: "empty key", script: "searchIndex[\"\"] = {};\ninitSearch(searchIndex);\n"},
		{name: "trailing garbage", script: "searchIndex[\"a\"] = {} {};\ninitSearch(searchIndex);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJS(strings.NewReader(tt.script))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v, got %v", tt.is, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	idx := readExactIndex()
	if err := idx.Validate(); err != nil {
		t.Fatalf("valid index rejected: %v", err)
	}

	doc := idx["read_exact"]
	doc.Items[1].Parent = intPtr(1)
	idx["read_exact"] = doc
	if err := idx.Validate(); err == nil {
		t.Error("expected out-of-range parent to be rejected")
	}

	bad := Index{"x": {Items: []Item{{Kind: ItemType(99), Name: "y"}}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected unknown kind to be rejected")
	}
}

func TestLoad(t *testing.T) {
	calls := 0
	var seen Index
	idx, err := Load(strings.NewReader(readExactJS), ConsumerFunc(func(got Index) {
		calls++
		seen = got
	}))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("InitSearch called %d times, want 1", calls)
	}
	if diff := cmp.Diff(idx, seen); diff != "" {
		t.Errorf("consumer saw a different index (-returned +seen):\n%s", diff)
	}
}

func TestLoad_FailureSkipsConsumer(t *testing.T) {
	script := strings.Replace(readExactJS, `0,null]]`, `7,null]]`, 1)
	_, err := Load(strings.NewReader(script), ConsumerFunc(func(Index) {
		t.Fatal("consumer must not be called for an invalid index")
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFullPath(t *testing.T) {
	idx := readExactIndex()
	doc := idx["read_exact"]
	if got := doc.FullPath(&doc.Items[0]); got != "read_exact::ReadExactExt" {
		t.Errorf("trait path = %q", got)
	}
	if got := doc.FullPath(&doc.Items[1]); got != "read_exact::ReadExactExt::read_exact_or_eof" {
		t.Errorf("method path = %q", got)
	}
}

func TestItemType(t *testing.T) {
	for _, tt := range []struct {
		t    ItemType
		name string
	}{
		{Module, "mod"}, {Trait, "trait"}, {TyMethod, "tymethod"}, {Method, "method"}, {TraitAlias, "traitalias"},
	} {
		if tt.t.String() != tt.name {
			t.Errorf("%d.String() = %q, want %q", int(tt.t), tt.t.String(), tt.name)
		}
		parsed, err := ParseItemType(tt.name)
		if err != nil || parsed != tt.t {
			t.Errorf("ParseItemType(%q) = %v, %v", tt.name, parsed, err)
		}
	}
	if got := ItemType(42).String(); got != "ItemType(42)" {
		t.Errorf("unknown kind String() = %q", got)
	}
	if _, err := ParseItemType("class"); err == nil {
		t.Error("expected error for unknown kind name")
	}
}
