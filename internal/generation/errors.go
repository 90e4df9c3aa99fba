package generation

import (
	"errors"
	"fmt"
)

var (
	ErrRequestBuild = errors.New("building generation request")
	ErrTransport    = errors.New("generation request failed")
	ErrNoResult     = errors.New("no result URL in response")
	ErrCancelled    = errors.New("cancelled")
)

// Both are transport failures; errors.Is(err, ErrTransport) holds for them.
var (
	ErrUpstreamStatus = fmt.Errorf("%w: endpoint returned error", ErrTransport)
	ErrEmptyBody      = fmt.Errorf("%w: response has no body", ErrTransport)
)
