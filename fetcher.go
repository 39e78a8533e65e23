package offlinecache

import (
	"net/http"
)

// Fetcher is the network as seen by the agent.
// A returned error means the request failed, e.g. the network is unavailable.
// Any response, whatever its status code, is not an error.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(req *http.Request) (*http.Response, error) {
	return f(req)
}

// HTTPFetcher fetches over HTTP without following redirects,
// so redirects reach the client (and the cache) as they are.
type HTTPFetcher struct {
	client http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *HTTPFetcher) Fetch(req *http.Request) (*http.Response, error) {
	return f.client.Do(req)
}
