package driven

import (
	"context"
	"net/url"
)

// ProviderAPI performs bearer-authenticated calls against provider resource APIs.
// Non-2xx responses are returned as *domain.ResourceError.
type ProviderAPI interface {
	Get(ctx context.Context, accessToken, path string, query url.Values) ([]byte, error)
}
