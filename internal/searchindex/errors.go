package searchindex

import "errors"

var (
	// ErrDuplicateCrate is returned when a crate key is assigned twice.
	ErrDuplicateCrate = errors.New("duplicate crate in search index")

	// ErrNoInitCall is returned when a script never hands the table to initSearch.
	ErrNoInitCall = errors.New("search index has no initSearch call")
)
