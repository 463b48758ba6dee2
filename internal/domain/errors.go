package domain

import "errors"

// ErrExternalService wraps every network or API failure talking to the game service
// or the chat transport.
var ErrExternalService = errors.New("external service error")
