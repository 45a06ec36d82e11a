package domain

import "errors"

// Error kinds. Every failure surfaced by the relay wraps exactly one of these.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrIdentifierFormat = errors.New("malformed antenna id")
	ErrConnection       = errors.New("connection error")
	ErrSubscription     = errors.New("subscription error")
	ErrTransport        = errors.New("transport error")
	ErrURLConstruction  = errors.New("permalink construction error")
	ErrDelivery         = errors.New("delivery error")
)
