package registry

import "errors"

var (
	ErrNotFound        = errors.New("registry: not found")
	ErrInvalidIndustry = errors.New("registry: invalid industry")
)
