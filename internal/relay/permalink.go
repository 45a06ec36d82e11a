package relay

import (
	"fmt"
	"net/url"

	"antennarelay/internal/domain"
)

const notesPath = "notes/"

// Permalink resolves notes/<id> against base the way a browser resolves a
// relative link, so a base path without a trailing slash loses its last segment.
func Permalink(base *url.URL, noteID string) (*url.URL, error) {
	switch {
	case base == nil:
		return nil, fmt.Errorf("%w: base URL is missing", domain.ErrURLConstruction)
	case !base.IsAbs() || base.Opaque != "" || base.Host == "":
		return nil, fmt.Errorf("%w: base URL %q cannot be joined", domain.ErrURLConstruction, base.String())
	case noteID == "":
		return nil, fmt.Errorf("%w: note id is empty", domain.ErrURLConstruction)
	}

	notes := base.ResolveReference(&url.URL{Path: notesPath})

	return notes.ResolveReference(&url.URL{Path: noteID}), nil
}
