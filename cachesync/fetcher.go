package cachesync

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher is the production Fetcher: plain GETs with a hard
// timeout so a stalled endpoint reads as a failure, not a hang.
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownloadError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
