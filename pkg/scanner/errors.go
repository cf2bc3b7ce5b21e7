package scanner

import "errors"

// ErrScannerClosed is the ImplementationError case of spec §7: any public
// discovery call made after Close().
var ErrScannerClosed = errors.New("scanner: closed")

// ErrMissingCollaborator is returned by New when Config omits one of the
// required Transport/Codec/Clock dependencies.
var ErrMissingCollaborator = errors.New("scanner: missing transport, codec, or clock")
