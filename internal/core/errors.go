package core

import "errors"

// ErrNotFound is returned by a Signaler when the server no longer recognizes
// the referenced producer, consumer or transport.
var ErrNotFound = errors.New("not found")
