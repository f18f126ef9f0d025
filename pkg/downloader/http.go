package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ludic-games/contentfs/pkg/util"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// isTransientHTTPStatus reports whether a response status should be
// retried with backoff (spec §7 "Network: transient (timeout,
// connection refused, 5xx)").
func isTransientHTTPStatus(code int) bool {
	return code >= 500 && code < 600
}

// fetchRangeOnce issues a single GET with a byte Range header covering
// [begin, end) and returns exactly (end-begin) bytes on success. It does
// not retry; callers apply the exponential backoff policy of spec §4.8.
func fetchRangeOnce(ctx context.Context, client util.HTTPClient, url string, begin, end uint64) ([]byte, error) {
	if end <= begin {
		return nil, status.Error(codes.InvalidArgument, "downloader: empty or inverted byte range")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "downloader: failed to construct request: %s", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", begin, end-1))

	resp, err := client.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "downloader: range request failed: %s", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		// A 200 response (server ignored the Range header) is
		// accepted only if it happens to deliver exactly the
		// requested span; otherwise it is a protocol error.
		if begin != 0 || resp.ContentLength != int64(end-begin) {
			return nil, status.Errorf(codes.Internal, "downloader: server ignored the range request for [%d,%d)", begin, end)
		}
	case isTransientHTTPStatus(resp.StatusCode):
		return nil, status.Errorf(codes.Unavailable, "downloader: transient HTTP status %d", resp.StatusCode)
	default:
		return nil, status.Errorf(codes.PermissionDenied, "downloader: permanent HTTP status %d", resp.StatusCode)
	}

	want := int(end - begin)
	buf := make([]byte, want)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, status.Errorf(codes.Unavailable, "downloader: short read for range [%d,%d): %s", begin, end, err)
	}
	return buf, nil
}
