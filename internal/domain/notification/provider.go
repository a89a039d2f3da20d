package notification

import "context"

// CarrierProvider is the secondary carrier-based text-message provider.
// Implementations should return a *ProviderError for provider-side
// rejections so the dispatcher can surface the sub-code.
type CarrierProvider interface {
	SendText(ctx context.Context, to, body string) (string, error)
}
