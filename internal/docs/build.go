package docs

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jcdickinson/docindex/internal/markdown"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

// moduleKinds maps rustdoc inner kinds that can appear directly in a module
// to their search-index kind. Kinds absent here (use, impl, extern_crate)
// are not indexed.
var moduleKinds = map[string]searchindex.ItemType{
	"module":         searchindex.Module,
	"struct":         searchindex.Struct,
	"enum":           searchindex.Enum,
	"union":          searchindex.Union,
	"function":       searchindex.Function,
	"type_alias":     searchindex.TypeAlias,
	"static":         searchindex.Static,
	"constant":       searchindex.Constant,
	"trait":          searchindex.Trait,
	"trait_alias":    searchindex.TraitAlias,
	"macro":          searchindex.Macro,
	"primitive":      searchindex.Primitive,
	"extern_type":    searchindex.ForeignType,
	"proc_attribute": searchindex.ProcAttribute,
	"proc_derive":    searchindex.ProcDerive,
}

type builder struct {
	crate   *RustdocCrate
	doc     searchindex.CrateDoc
	pathIdx map[int]int
	seen    map[int]bool
}

// BuildCrateDoc walks a rustdoc crate from its root module and produces the
// crate's search-index document together with the crate's library name.
//
// Items appear in declaration order, depth first: each module's entries,
// then the members attached to each trait or type directly after it.
// Members of traits and of inherent impls point at their owner through
// Item.Parent. Only items local to the crate are indexed.
func BuildCrateDoc(crate *RustdocCrate) (string, searchindex.CrateDoc, error) {
	root, ok := crate.Index[itemKey(crate.Root)]
	if !ok {
		return "", searchindex.CrateDoc{}, fmt.Errorf("root item %d not found", crate.Root)
	}
	if root.Name == nil || *root.Name == "" {
		return "", searchindex.CrateDoc{}, fmt.Errorf("root item %d has no name", crate.Root)
	}
	if unwrapInner(root.Inner, "module") == nil {
		return "", searchindex.CrateDoc{}, fmt.Errorf("root item %d is not a module", crate.Root)
	}

	b := &builder{
		crate:   crate,
		pathIdx: make(map[int]int),
		seen:    map[int]bool{crate.Root: true},
	}
	b.doc.Doc = markdown.Summary(deref(root.Docs))
	b.walkModule(root.Inner, *root.Name)

	if err := b.doc.Validate(); err != nil {
		return "", searchindex.CrateDoc{}, fmt.Errorf("building index for %s: %w", *root.Name, err)
	}
	return *root.Name, b.doc, nil
}

func (b *builder) walkModule(inner json.RawMessage, modPath string) {
	var m struct {
		Items []int `json:"items"`
	}
	if err := json.Unmarshal(unwrapInner(inner, "module"), &m); err != nil {
		return
	}

	for _, id := range m.Items {
		item, ok := b.local(id)
		if !ok {
			continue
		}
		kind := innerKind(item.Inner)
		t, ok := moduleKinds[kind]
		if !ok {
			continue
		}
		name := *item.Name
		b.add(t, name, modPath, item.Docs, nil)

		switch kind {
		case "module":
			b.walkModule(item.Inner, modPath+"::"+name)
		case "trait":
			b.walkTrait(id, name, item.Inner, modPath)
		case "struct", "enum", "union":
			b.walkType(id, name, t, kind, item.Inner, modPath)
		}
	}
}

func (b *builder) walkTrait(id int, name string, inner json.RawMessage, modPath string) {
	var tr struct {
		Items []int `json:"items"`
	}
	if err := json.Unmarshal(unwrapInner(inner, "trait"), &tr); err != nil {
		return
	}
	for _, memberID := range tr.Items {
		member, ok := b.local(memberID)
		if !ok {
			continue
		}
		t, ok := memberKind(member, true)
		if !ok {
			continue
		}
		parent := b.parent(id, searchindex.Trait, name)
		b.add(t, *member.Name, modPath, member.Docs, &parent)
	}
}

func (b *builder) walkType(id int, name string, t searchindex.ItemType, kind string, inner json.RawMessage, modPath string) {
	var data struct {
		Kind     json.RawMessage `json:"kind"`
		Fields   []int           `json:"fields"`
		Variants []int           `json:"variants"`
		Impls    []int           `json:"impls"`
	}
	if err := json.Unmarshal(unwrapInner(inner, kind), &data); err != nil {
		return
	}

	var fields []int
	switch kind {
	case "struct":
		var plain struct {
			Plain *struct {
				Fields []int `json:"fields"`
			} `json:"plain"`
		}
		if json.Unmarshal(data.Kind, &plain) == nil && plain.Plain != nil {
			fields = plain.Plain.Fields
		}
	case "union":
		fields = data.Fields
	}

	for _, fid := range fields {
		if f, ok := b.local(fid); ok {
			parent := b.parent(id, t, name)
			b.add(searchindex.StructField, *f.Name, modPath, f.Docs, &parent)
		}
	}
	for _, vid := range data.Variants {
		if v, ok := b.local(vid); ok {
			parent := b.parent(id, t, name)
			b.add(searchindex.Variant, *v.Name, modPath, v.Docs, &parent)
		}
	}

	for _, implID := range data.Impls {
		implItem, ok := b.crate.Index[itemKey(implID)]
		if !ok || implItem.CrateID != 0 {
			continue
		}
		var impl struct {
			Trait       json.RawMessage `json:"trait"`
			Items       []int           `json:"items"`
			IsSynthetic bool            `json:"is_synthetic"`
		}
		if err := json.Unmarshal(unwrapInner(implItem.Inner, "impl"), &impl); err != nil {
			continue
		}
		// Trait impl members are documented on the trait itself.
		if impl.IsSynthetic || (len(impl.Trait) > 0 && !isJSONNull(impl.Trait)) {
			continue
		}
		for _, memberID := range impl.Items {
			member, ok := b.local(memberID)
			if !ok {
				continue
			}
			mt, ok := memberKind(member, false)
			if !ok {
				continue
			}
			parent := b.parent(id, t, name)
			b.add(mt, *member.Name, modPath, member.Docs, &parent)
		}
	}
}

// local returns an unvisited, named item belonging to the crate being
// indexed, and marks it visited.
func (b *builder) local(id int) (RustdocItem, bool) {
	if b.seen[id] {
		return RustdocItem{}, false
	}
	item, ok := b.crate.Index[itemKey(id)]
	if !ok || item.CrateID != 0 || item.Name == nil || *item.Name == "" {
		return RustdocItem{}, false
	}
	b.seen[id] = true
	return item, true
}

// parent returns the Paths index for the owner type, registering it on
// first use.
func (b *builder) parent(id int, t searchindex.ItemType, name string) int {
	if idx, ok := b.pathIdx[id]; ok {
		return idx
	}
	b.doc.Paths = append(b.doc.Paths, searchindex.Path{Kind: t, Name: name})
	idx := len(b.doc.Paths) - 1
	b.pathIdx[id] = idx
	return idx
}

func (b *builder) add(t searchindex.ItemType, name, path string, docs *string, parent *int) {
	b.doc.Items = append(b.doc.Items, searchindex.Item{
		Kind:   t,
		Name:   name,
		Path:   path,
		Desc:   markdown.Summary(deref(docs)),
		Parent: parent,
	})
}

// memberKind classifies an associated item. Trait functions without a
// default body are required methods (tymethod); everything else callable
// is a method.
func memberKind(item RustdocItem, inTrait bool) (searchindex.ItemType, bool) {
	switch innerKind(item.Inner) {
	case "function":
		var fn struct {
			HasBody bool `json:"has_body"`
		}
		if inTrait && json.Unmarshal(unwrapInner(item.Inner, "function"), &fn) == nil && !fn.HasBody {
			return searchindex.TyMethod, true
		}
		return searchindex.Method, true
	case "assoc_const":
		return searchindex.AssocConst, true
	case "assoc_type":
		return searchindex.AssocType, true
	default:
		return 0, false
	}
}

func itemKey(id int) string { return strconv.Itoa(id) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isJSONNull(b json.RawMessage) bool {
	return string(b) == "null"
}
