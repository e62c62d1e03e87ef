package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrProvider covers embedding/completion RPC failures. Surfaced to
	// the client on the synchronous path, swallowed and logged on the
	// deferred path.
	ErrProvider = goerr.New("provider error")

	// ErrValidation covers structured extraction output that fails the
	// schema. Deferred path only; the turn's extraction is skipped.
	ErrValidation = goerr.New("validation error")

	// ErrNotFound covers unresolvable access keys and context IDs.
	ErrNotFound = goerr.New("not found")

	// ErrUpstreamHTTP covers non-2xx responses from the streaming
	// passthrough; the upstream payload is forwarded verbatim.
	ErrUpstreamHTTP = goerr.New("upstream http error")
)
