// Package fetcher issues the plain HTTP requests of the enrichment run:
// redirect resolution for search results and page and image downloads for
// logo scraping.
package fetcher

import (
	"context"
)

// Page is a fetched HTML document.
type Page struct {
	URL         string // final URL after redirects
	ContentType string
	Body        []byte
}

// Fetcher defines the interface for remote HTTP access.
type Fetcher interface {
	// Resolve follows redirects and returns the final URL.
	Resolve(ctx context.Context, url string) (string, error)

	// FetchPage fetches the URL and returns its body, capped at the
	// configured size.
	FetchPage(ctx context.Context, url string) (*Page, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
