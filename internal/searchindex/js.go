package searchindex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	declLine     = "var searchIndex = {};"
	initLine     = "initSearch(searchIndex);"
	assignPrefix = "searchIndex["

	maxScriptLine = 64 << 20
)

// WriteJS writes idx as the search-index script a documentation page loads:
// a table declaration, one assignment per crate in name order, and a final
// initSearch call handing the table to the page's search widget.
func WriteJS(w io.Writer, idx Index) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(declLine + "\n")
	for _, name := range idx.Names() {
		key, err := json.Marshal(name)
		if err != nil {
			return fmt.Errorf("encoding crate name %q: %w", name, err)
		}
		doc, err := json.Marshal(idx[name])
		if err != nil {
			return fmt.Errorf("encoding crate %s: %w", name, err)
		}
		bw.WriteString(assignPrefix)
		bw.Write(key)
		bw.WriteString("] = ")
		bw.Write(doc)
		bw.WriteString(";\n")
	}
	bw.WriteString(initLine + "\n")
	return bw.Flush()
}

// ParseJS reads a script produced by WriteJS (or by rustdoc's equivalent
// generator). Each crate may be assigned once, and the script must end by
// calling initSearch.
func ParseJS(r io.Reader) (Index, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScriptLine)

	idx := Index{}
	sawInit := false
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "//"):
			continue
		case sawInit:
			return nil, fmt.Errorf("line %d: statement after initSearch", lineNo)
		case line == declLine || line == strings.TrimSuffix(declLine, ";"):
			continue
		case line == initLine || line == strings.TrimSuffix(initLine, ";"):
			sawInit = true
		case strings.HasPrefix(line, assignPrefix):
			name, doc, err := parseAssignment(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if _, dup := idx[name]; dup {
				return nil, fmt.Errorf("line %d: %w: %s", lineNo, ErrDuplicateCrate, name)
			}
			idx[name] = doc
		default:
			return nil, fmt.Errorf("line %d: unrecognized statement", lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading search index: %w", err)
	}
	if !sawInit {
		return nil, ErrNoInitCall
	}
	return idx, nil
}

// parseAssignment splits `searchIndex["name"] = {...};` into its parts.
func parseAssignment(line string) (string, CrateDoc, error) {
	rest := strings.TrimPrefix(line, assignPrefix)
	end := strings.Index(rest, "] =")
	if end < 0 {
		return "", CrateDoc{}, fmt.Errorf("malformed assignment")
	}

	var name string
	if err := json.Unmarshal([]byte(rest[:end]), &name); err != nil {
		return "", CrateDoc{}, fmt.Errorf("decoding crate key: %w", err)
	}
	if name == "" {
		return "", CrateDoc{}, fmt.Errorf("empty crate key")
	}

	body := strings.TrimSpace(rest[end+len("] ="):])
	body = strings.TrimSuffix(body, ";")

	var doc CrateDoc
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&doc); err != nil {
		return "", CrateDoc{}, fmt.Errorf("crate %s: %w", name, err)
	}
	if dec.More() {
		return "", CrateDoc{}, fmt.Errorf("crate %s: trailing data after document", name)
	}
	return name, doc, nil
}
