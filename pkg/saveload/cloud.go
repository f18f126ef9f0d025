package saveload

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ludic-games/contentfs/pkg/util"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Cloud status codes, grounded on SaveLoadManager.cpp's
// CloudRequestMonitor: a successful write or query, two "no data /
// here is data" load-side outcomes, a save-side "need a full
// checkpoint" outcome, and a write-side "accepted, and here is the
// authoritative metadata" outcome. Anything in the 5xx range is transient; any other 4xx is
// permanent.
const (
	CloudStatusSuccess                   = 200
	CloudStatusServerHasNoData           = 250
	CloudStatusServerHasSentData         = 251
	CloudStatusServerNeedsFullCheckpoint = 252
	CloudStatusSuccessWithMetadata       = 253
)

// cloudResponse is the raw result of one cloud POST.
type cloudResponse struct {
	status int
	body   []byte
}

// postCloud sends a delta-save or query POST to rawURL carrying the
// CBOR-encoded payload and its target MD5, mirroring the
// data/target_md5 form fields of the cloud save protocol.
func postCloud(ctx context.Context, client util.HTTPClient, rawURL string, data []byte, targetMD5 [16]byte) (*cloudResponse, error) {
	form := url.Values{}
	form.Set("data", base64.StdEncoding.EncodeToString(data))
	form.Set("target_md5", hex.EncodeToString(targetMD5[:]))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "saveload: failed to construct cloud request: %s", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "saveload: cloud request failed: %s", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "saveload: failed to read cloud response: %s", err)
	}
	return &cloudResponse{status: resp.StatusCode, body: body}, nil
}

func isTransientCloudStatus(code int) bool {
	return code >= 500 && code < 600
}

func md5Sum(b []byte) [16]byte {
	return md5.Sum(b)
}

// cloudSaveBody is the full-replacement body a server sends back for a
// CloudStatusServerHasSentData load response.
type cloudSaveBody struct {
	Version  int32                  `cbor:"version"`
	SaveData map[string]interface{} `cbor:"save_data"`
}

// cloudMetadataEcho is the body a server sends back for a
// CloudStatusSuccessWithMetadata save response, confirming which
// session and transaction watermark it actually committed.
type cloudMetadataEcho struct {
	SessionGUID      [16]byte `cbor:"session_guid"`
	TransactionIDMax uint64   `cbor:"transaction_id_max"`
}
