package utils

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// ImageDownloader fetches catalog images with a request identity the
// image host accepts.
type ImageDownloader struct {
	client *resty.Client
}

// NewImageDownloader creates a downloader with the given per-call timeout.
func NewImageDownloader(timeout time.Duration) *ImageDownloader {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &ImageDownloader{
		client: resty.New().SetTimeout(timeout),
	}
}

// Download fetches rawURL and returns the bytes plus a file extension
// (".jpg", ".png", ...) inferred from the response.
func (d *ImageDownloader) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeaders(IdentityHeaders(rawURL)).
		Get(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("http get failed: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("download failed with status: %d", resp.StatusCode())
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download returned an empty body")
	}
	return data, ImageExtension(resp.Header().Get("Content-Type"), rawURL, data), nil
}

// IdentityHeaders returns the User-Agent/Referer pair for the image host.
func IdentityHeaders(rawURL string) map[string]string {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}

	switch {
	case strings.Contains(host, "lcsc"):
		return map[string]string{
			"User-Agent": IOSUserAgent,
			"Referer":    "https://www.lcsc.com/",
		}
	case strings.Contains(host, "mouser"):
		return map[string]string{
			"User-Agent": IOSUserAgent,
			"Referer":    "https://www.mouser.com/",
		}
	default:
		return map[string]string{"User-Agent": DefaultUserAgent}
	}
}

// ImageExtension infers a file extension: Content-Type first, then the URL
// path, then the bytes themselves. Falls back to ".jpg".
func ImageExtension(contentType, rawURL string, data []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "webp"):
		return ".webp"
	case strings.Contains(ct, "gif"):
		return ".gif"
	}

	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
			return ext
		}
	}

	if len(data) > 0 {
		if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
			return mt.Extension()
		}
	}
	return ".jpg"
}
