package notify

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pkg/browser"
)

// Opener shows a URL to the user.
type Opener interface {
	Open(ctx context.Context, rawURL string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, rawURL string) error

func (f OpenerFunc) Open(ctx context.Context, rawURL string) error { return f(ctx, rawURL) }

// Browser opens http(s) links in the user's default browser.
type Browser struct {
	openURL func(string) error
}

func NewBrowser() *Browser { return &Browser{openURL: browser.OpenURL} }

func (b *Browser) Open(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("refusing to open non-http url %q", rawURL)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.openURL(u.String()); err != nil {
		return fmt.Errorf("open %s: %w", u.Host, err)
	}
	return nil
}
