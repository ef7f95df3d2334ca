package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/linnemanlabs/haven/internal/alert"
)

// Feed polls a JSON document over HTTP.
type Feed struct {
	url    string
	client *http.Client
}

// NewFeed creates a feed source for the given URL.
func NewFeed(url string, client *http.Client) *Feed {
	return &Feed{url: url, client: defaultHTTPClient(client)}
}

// Name implements Source.
func (f *Feed) Name() string { return KindFeed }

// Poll implements Source.
func (f *Feed) Poll(ctx context.Context) ([]alert.Raw, error) {
	body, err := fetch(ctx, f.client, f.url)
	if err != nil {
		return nil, fmt.Errorf("poll feed: %w", err)
	}
	return DecodeFeed(body)
}
