package llm

import (
	"context"
	"errors"
)

var errNotConfigured = errors.New("no completion provider configured")

// DisabledProvider fails every call. It stands in when no API key is set so
// the tutor still answers, entirely from fallback templates.
type DisabledProvider struct{}

// NewDisabledProvider returns a provider that is always unavailable.
func NewDisabledProvider() *DisabledProvider {
	return &DisabledProvider{}
}

func (DisabledProvider) Generate(context.Context, Request) (*Response, error) {
	return nil, &ErrProviderUnavailable{Err: errNotConfigured}
}

func (DisabledProvider) ModelID() string {
	return ProviderDisabled
}
