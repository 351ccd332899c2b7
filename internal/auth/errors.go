package auth

import "errors"

// ErrUnauthenticated covers every access-token failure mode: missing,
// malformed, bad signature, expired, or presented by a different holder of
// key. Callers must not differentiate these to the client.
var ErrUnauthenticated = errors.New("auth: unauthenticated")
