package saveload

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ludic-games/contentfs/internal/mock"
	"github.com/ludic-games/contentfs/pkg/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPostCloudSendsFormEncodedRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockHTTPClient(ctrl)

	client.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), "target_md5=")
		require.Contains(t, string(body), "data=")

		return &http.Response{
			StatusCode: CloudStatusSuccess,
			Body:       io.NopCloser(strings.NewReader("")),
		}, nil
	})

	resp, err := postCloud(context.Background(), client, "http://cloud.example/save", []byte("payload"), md5Sum([]byte("payload")))
	require.NoError(t, err)
	require.Equal(t, CloudStatusSuccess, resp.status)
}

func TestWaitBackoffUnblocksWhenClockTimerFires(t *testing.T) {
	ctrl := gomock.NewController(t)
	clk := mock.NewMockClock(ctrl)
	timer := mock.NewMockTimer(ctrl)

	fireCh := make(chan time.Time, 1)
	fireCh <- time.Now()

	clk.EXPECT().NewTimer(gomock.Any()).Return(timer, (<-chan time.Time)(fireCh))

	s := &Service{cfg: Config{Clock: clk}}
	backoff := util.NewBackoff(10*time.Millisecond, 2, time.Second)

	err := s.waitBackoff(context.Background(), backoff)
	require.NoError(t, err)
}

func TestWaitBackoffReturnsErrorOnContextCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	clk := mock.NewMockClock(ctrl)
	timer := mock.NewMockTimer(ctrl)

	fireCh := make(chan time.Time)
	timer.EXPECT().Stop().Return(true)
	clk.EXPECT().NewTimer(gomock.Any()).Return(timer, (<-chan time.Time)(fireCh))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Service{cfg: Config{Clock: clk}}
	backoff := util.NewBackoff(10*time.Millisecond, 2, time.Second)

	err := s.waitBackoff(ctx, backoff)
	require.Error(t, err)
}
