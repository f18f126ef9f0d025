package util

import (
	"net/http"
)

// HTTPClient is an interface around Go's standard HTTP client type. It
// has been added to aid unit testing: the downloader and the save/load
// cloud client depend on this interface rather than *http.Client
// directly, so tests can substitute a gomock HTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is the HTTPClient used outside of tests.
var DefaultHTTPClient HTTPClient = &http.Client{
	Transport: http.DefaultTransport,
}
