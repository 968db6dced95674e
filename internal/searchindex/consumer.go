package searchindex

import (
	"fmt"
	"io"
)

// Consumer is whatever the loaded table is handed to, typically a search
// widget. InitSearch is called exactly once per Load.
type Consumer interface {
	InitSearch(idx Index)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(idx Index)

func (f ConsumerFunc) InitSearch(idx Index) { f(idx) }

// Load parses a search-index script, validates it and hands the result to c.
// c is not called when parsing or validation fails.
func Load(r io.Reader, c Consumer) (Index, error) {
	idx, err := ParseJS(r)
	if err != nil {
		return nil, fmt.Errorf("parsing search index: %w", err)
	}
	if err := idx.Validate(); err != nil {
		return nil, fmt.Errorf("validating search index: %w", err)
	}
	c.InitSearch(idx)
	return idx, nil
}
