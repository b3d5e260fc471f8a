package utils

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// IOSUserAgent avoids bot-blocking on LCSC's CDN and wmsc API.
const IOSUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) " +
	"Version/17.0 Mobile/15E148 Safari/604.1"

// DefaultUserAgent identifies this tool to services that do not care.
const DefaultUserAgent = "inventree-bom-sync/1.0"

// ClientOptions configures NewRestClient.
type ClientOptions struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
	Debug   bool
}

// NewRestClient creates the resty client every outbound call goes through.
// Every request decodes its response as JSON; catalogs are inconsistent about Content-Type.
func NewRestClient(opts ClientOptions) *resty.Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetDebug(opts.Debug).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", DefaultUserAgent).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			r.ForceContentType("application/json")
			return nil
		})

	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}
	return client
}
