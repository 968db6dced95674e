package searchindex

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the item as a positional tuple:
// [kind, name, path, desc, parent|null, searchType|null].
func (it Item) MarshalJSON() ([]byte, error) {
	tuple := []any{int(it.Kind), it.Name, it.Path, it.Desc, nil, nil}
	if it.Parent != nil {
		tuple[4] = *it.Parent
	}
	if len(it.SearchType) > 0 {
		tuple[5] = it.SearchType
	}
	return json.Marshal(tuple)
}

// UnmarshalJSON accepts tuples of four to six fields; missing trailing
// fields are treated as null.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding item tuple: %w", err)
	}
	if len(raw) < 4 || len(raw) > 6 {
		return fmt.Errorf("item tuple has %d fields, want 4 to 6", len(raw))
	}

	var kind int
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return fmt.Errorf("decoding item kind: %w", err)
	}
	out := Item{Kind: ItemType(kind)}
	for i, dst := range []*string{&out.Name, &out.Path, &out.Desc} {
		if isNull(raw[i+1]) {
			continue
		}
		if err := json.Unmarshal(raw[i+1], dst); err != nil {
			return fmt.Errorf("decoding item field %d: %w", i+1, err)
		}
	}
	if len(raw) > 4 && !isNull(raw[4]) {
		var parent int
		if err := json.Unmarshal(raw[4], &parent); err != nil {
			return fmt.Errorf("decoding item parent: %w", err)
		}
		out.Parent = &parent
	}
	if len(raw) > 5 && !isNull(raw[5]) {
		out.SearchType = append(json.RawMessage(nil), raw[5]...)
	}

	*it = out
	return nil
}

// MarshalJSON encodes the path as [kind, name].
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{int(p.Kind), p.Name})
}

func (p *Path) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding path tuple: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("path tuple has %d fields, want 2", len(raw))
	}
	var kind int
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return fmt.Errorf("decoding path kind: %w", err)
	}
	var name string
	if err := json.Unmarshal(raw[1], &name); err != nil {
		return fmt.Errorf("decoding path name: %w", err)
	}
	*p = Path{Kind: ItemType(kind), Name: name}
	return nil
}

type crateDocWire struct {
	Doc   string `json:"doc"`
	Items []Item `json:"items"`
	Paths []Path `json:"paths"`
}

// MarshalJSON writes the crate document. An item whose path repeats the
// previous item's path is written with an empty path, as rustdoc does.
func (c CrateDoc) MarshalJSON() ([]byte, error) {
	w := crateDocWire{
		Doc:   c.Doc,
		Items: make([]Item, len(c.Items)),
		Paths: make([]Path, len(c.Paths)),
	}
	copy(w.Paths, c.Paths)
	prev := ""
	for i, it := range c.Items {
		if i > 0 && it.Path == prev {
			it.Path = ""
		}
		prev = c.Items[i].Path
		w.Items[i] = it
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a crate document, restoring elided item paths from
// the preceding item.
func (c *CrateDoc) UnmarshalJSON(data []byte) error {
	var w crateDocWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding crate doc: %w", err)
	}
	prev := ""
	for i := range w.Items {
		if w.Items[i].Path == "" {
			w.Items[i].Path = prev
		}
		prev = w.Items[i].Path
	}
	*c = CrateDoc{Doc: w.Doc, Items: w.Items, Paths: w.Paths}
	return nil
}

func isNull(b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
