// Package searchindex models the search index a documentation browser loads
// at page-view time: per crate, a description, an ordered list of item
// descriptors and the type paths those items refer to.
package searchindex

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ItemType is the numeric kind code carried by items and paths.
// The values follow rustdoc's own numbering and must not be reordered.
type ItemType int

const (
	Module ItemType = iota
	ExternCrate
	Import
	Struct
	Enum
	Function
	TypeAlias
	Static
	Trait
	Impl
	TyMethod
	Method
	StructField
	Variant
	Macro
	Primitive
	AssocType
	Constant
	AssocConst
	Union
	ForeignType
	Keyword
	OpaqueTy
	ProcAttribute
	ProcDerive
	TraitAlias
)

var itemTypeNames = [...]string{
	Module:        "mod",
	ExternCrate:   "externcrate",
	Import:        "import",
	Struct:        "struct",
	Enum:          "enum",
	Function:      "fn",
	TypeAlias:     "type",
	Static:        "static",
	Trait:         "trait",
	Impl:          "impl",
	TyMethod:      "tymethod",
	Method:        "method",
	StructField:   "structfield",
	Variant:       "variant",
	Macro:         "macro",
	Primitive:     "primitive",
	AssocType:     "associatedtype",
	Constant:      "constant",
	AssocConst:    "associatedconstant",
	Union:         "union",
	ForeignType:   "foreigntype",
	Keyword:       "keyword",
	OpaqueTy:      "opaque",
	ProcAttribute: "attr",
	ProcDerive:    "derive",
	TraitAlias:    "traitalias",
}

func (t ItemType) String() string {
	if t >= 0 && int(t) < len(itemTypeNames) {
		return itemTypeNames[t]
	}
	return "ItemType(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known kind code.
func (t ItemType) Valid() bool {
	return t >= 0 && int(t) < len(itemTypeNames)
}

// ParseItemType maps a kind name such as "trait" or "tymethod" to its code.
func ParseItemType(s string) (ItemType, error) {
	for i, name := range itemTypeNames {
		if name == s {
			return ItemType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown item type %q", s)
}

// Item is one searchable entry. Path is the namespace the item lives in, not
// including the item itself. Parent, when set, indexes into CrateDoc.Paths
// and names the type or trait the item is attached to.
type Item struct {
	Kind       ItemType
	Name       string
	Path       string
	Desc       string
	Parent     *int
	SearchType json.RawMessage
}

// Path is a declared type referenced by items through Item.Parent.
type Path struct {
	Kind ItemType
	Name string
}

// CrateDoc is the document recorded for one crate. Items are kept in
// display order.
type CrateDoc struct {
	Doc   string
	Items []Item
	Paths []Path
}

// ParentPath resolves it.Parent against the crate's paths.
func (c *CrateDoc) ParentPath(it *Item) (Path, bool) {
	if it.Parent == nil || *it.Parent < 0 || *it.Parent >= len(c.Paths) {
		return Path{}, false
	}
	return c.Paths[*it.Parent], true
}

// FullPath returns the item's fully qualified name, e.g.
// "read_exact::ReadExactExt::read_exact_or_eof".
func (c *CrateDoc) FullPath(it *Item) string {
	prefix := it.Path
	if p, ok := c.ParentPath(it); ok {
		if prefix == "" {
			prefix = p.Name
		} else {
			prefix += "::" + p.Name
		}
	}
	if prefix == "" {
		return it.Name
	}
	return prefix + "::" + it.Name
}

// Validate checks that every parent reference points at an existing path.
func (c *CrateDoc) Validate() error {
	for i := range c.Items {
		it := &c.Items[i]
		if !it.Kind.Valid() {
			return fmt.Errorf("item %d (%s): invalid kind %d", i, it.Name, int(it.Kind))
		}
		if it.Parent != nil && (*it.Parent < 0 || *it.Parent >= len(c.Paths)) {
			return fmt.Errorf("item %d (%s): parent index %d out of range (%d paths)", i, it.Name, *it.Parent, len(c.Paths))
		}
	}
	return nil
}

// Index maps crate names to their documents.
type Index map[string]CrateDoc

// Names returns the crate names in sorted order.
func (idx Index) Names() []string {
	names := make([]string, 0, len(idx))
	for name := range idx {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate runs CrateDoc.Validate for every crate.
func (idx Index) Validate() error {
	for _, name := range idx.Names() {
		doc := idx[name]
		if err := doc.Validate(); err != nil {
			return fmt.Errorf("crate %s: %w", name, err)
		}
	}
	return nil
}
