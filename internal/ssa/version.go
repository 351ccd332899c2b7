package ssa

import (
	"errors"
	"strconv"
	"strings"
)

// Supported API version range. Bumping MaxVersion is all that is needed when
// a new claim schema is introduced; the builder switches on the negotiated
// value.
const (
	MinVersion = 1
	MaxVersion = 2
)

// ErrUnsupportedVersion indicates the requested x-v header is outside the
// supported range or not numeric.
var ErrUnsupportedVersion = errors.New("ssa: unsupported version")

// NegotiateVersion selects the API version for a request. An absent or blank
// header negotiates the minimum supported version; anything else must parse
// as an integer within [MinVersion, MaxVersion].
func NegotiateVersion(header string) (int, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return MinVersion, nil
	}
	v, err := strconv.Atoi(header)
	if err != nil {
		return 0, ErrUnsupportedVersion
	}
	if v < MinVersion || v > MaxVersion {
		return 0, ErrUnsupportedVersion
	}
	return v, nil
}
