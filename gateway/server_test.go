package gateway

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"royaltyd/claims"
	"royaltyd/detect"
	"royaltyd/ledger"
	"royaltyd/native/royalty"
	"royaltyd/notify"
	"royaltyd/schedule"
)

const testAuthor = "0x5555555555555555555555555555555555555555"

type fixture struct {
	server    *Server
	processor *claims.Processor
	runner    *schedule.Runner
}

func newFixture(t *testing.T, adapter ledger.Adapter) *fixture {
	t.Helper()
	calc, err := royalty.NewCalculator(royalty.DefaultRates())
	require.NoError(t, err)
	dispatcher, err := notify.NewDispatcher(notify.NewMemoryStore())
	require.NoError(t, err)
	processor, err := claims.NewProcessor(calc, adapter, claims.NewMemoryHistory(),
		"0xfeefeefeefeefeefeefeefeefeefeefeefeefee0",
		claims.WithNotifier(dispatcher),
		claims.WithMetrics(nil))
	require.NoError(t, err)
	detector, err := detect.NewDetector(detect.FuncOracle{
		SimilarWorksFunc: func(context.Context, string, int) ([]detect.Match, error) {
			return []detect.Match{{SubjectID: "original-1", Author: testAuthor, Similarity: 0.8}}, nil
		},
	}, detect.NewMemoryEvents(),
		detect.WithNotifier(dispatcher),
		detect.WithOracleDelay(time.Nanosecond),
		detect.WithMetrics(nil))
	require.NoError(t, err)
	runner := schedule.NewRunner(nil)
	server := New(Config{
		Processor:  processor,
		Calculator: calc,
		Dispatcher: dispatcher,
		Detector:   detector,
		Runner:     runner,
		AdminToken: "admin-secret",
		Version:    "v1-test",
	})
	return &fixture{server: server, processor: processor, runner: runner}
}

func workingAdapter() ledger.Adapter {
	return ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)), nil
		},
		TransferFunc: func(_ context.Context, destination string, _ *big.Int) (string, error) {
			return "tx-" + destination[:6], nil
		},
	}
}

func do(t *testing.T, server *Server, method, path, body string, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestClaimEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodPost, "/royalties/claim",
		`{"chapterId":"chapter-1","authorAddress":"`+testAuthor+`","licenseTermsId":"premium"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.NotEmpty(t, env.Metadata.RequestID)
	require.Equal(t, "v1-test", env.Metadata.Version)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var result claims.Result
	require.NoError(t, json.Unmarshal(data, &result))
	require.True(t, result.Success)
	require.Equal(t, royalty.TierPremium, result.Tier)
}

func TestClaimEndpointValidation(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodPost, "/royalties/claim",
		`{"chapterId":"chapter-1","authorAddress":"bogus"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Equal(t, CodeValidation, env.Error.Code)
}

func TestClaimEndpointRateLimited(t *testing.T) {
	fx := newFixture(t, workingAdapter())
	body := `{"chapterId":"chapter-1","authorAddress":"` + testAuthor + `","licenseTermsId":"premium"}`

	var rec *httptest.ResponseRecorder
	var env envelope
	for i := 0; i <= claims.DefaultClaimsPerHour; i++ {
		rec, env = do(t, fx.server, http.MethodPost, "/royalties/claim", body, nil)
	}
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, CodeRateLimited, env.Error.Code)
}

func TestClaimableEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodGet,
		"/royalties/claimable/chapter-1?authorAddress="+testAuthor, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	_, env = do(t, fx.server, http.MethodGet,
		"/royalties/claimable/chapter-1?authorAddress="+testAuthor, "", nil)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var check claims.ClaimableCheck
	require.NoError(t, json.Unmarshal(data, &check))
	require.True(t, check.Cached)
}

func TestPreviewEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodGet,
		"/royalties/preview?licenseTier=premium&currentRevenue=1000000000000000000", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	rec, env = do(t, fx.server, http.MethodGet,
		"/royalties/preview?licenseTier=platinum&currentRevenue=1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, CodeValidation, env.Error.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())
	_, err := fx.processor.ProcessClaim(context.Background(), claims.Request{
		ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium",
	})
	require.NoError(t, err)

	rec, env := do(t, fx.server, http.MethodGet,
		"/royalties/history/"+testAuthor+"?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := env.Data.(map[string]any)
	require.EqualValues(t, 1, payload["total"])
	summary := payload["summary"].(map[string]any)
	require.EqualValues(t, 1, summary["completed"])
}

func TestNotificationLifecycle(t *testing.T) {
	fx := newFixture(t, workingAdapter())
	_, err := fx.processor.ProcessClaim(context.Background(), claims.Request{
		ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium",
	})
	require.NoError(t, err)

	rec, env := do(t, fx.server, http.MethodGet, "/notifications/"+testAuthor, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var notifications []*notify.Notification
	require.NoError(t, json.Unmarshal(data, &notifications))
	require.Len(t, notifications, 1)
	require.Equal(t, notify.TypeClaimSuccess, notifications[0].Type)

	rec, env = do(t, fx.server, http.MethodPost, "/notifications/"+testAuthor+"/mark-read",
		`{"ids":["`+notifications[0].ID+`"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	marked := env.Data.(map[string]any)
	require.EqualValues(t, 1, marked["marked"])
}

func TestPreferencesEndpoints(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodGet, "/notifications/"+testAuthor+"/preferences", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	rec, env = do(t, fx.server, http.MethodPost, "/notifications/"+testAuthor+"/preferences",
		`{"channels":{"email":false},"frequency":"daily"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var pref notify.Preference
	require.NoError(t, json.Unmarshal(data, &pref))
	require.False(t, pref.Channels[notify.ChannelEmail])
	require.Equal(t, notify.FrequencyDaily, pref.Frequency)
}

func TestMonitorUploadEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodPost, "/notifications/derivatives",
		`{"authorAddress":"0x6666666666666666666666666666666666666666","subjectId":"upload-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var events []*detect.Event
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events, 1)
	require.Equal(t, detect.EventDerivative, events[0].Type)

	rec, env = do(t, fx.server, http.MethodGet, "/notifications/"+testAuthor+"/derivatives", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(mustJSON(t, env.Data), &events))
	require.Len(t, events, 1)
}

func TestAdminEndpoints(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, env := do(t, fx.server, http.MethodPost, "/admin/pause", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, CodeUnauthorized, env.Error.Code)

	auth := http.Header{"Authorization": []string{"Bearer admin-secret"}}
	rec, _ = do(t, fx.server, http.MethodPost, "/admin/pause", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, fx.runner.Paused(), "pause should also suspend the monitor runner")

	rec, env = do(t, fx.server, http.MethodPost, "/royalties/claim",
		`{"chapterId":"chapter-1","authorAddress":"`+testAuthor+`","licenseTermsId":"premium"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, CodePaused, env.Error.Code)

	rec, env = do(t, fx.server, http.MethodGet, "/admin/status", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	status := env.Data.(map[string]any)
	require.Equal(t, true, status["paused"])
	require.Equal(t, true, status["monitorsPaused"])

	rec, _ = do(t, fx.server, http.MethodPost, "/admin/resume", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, fx.processor.Paused())
	require.False(t, fx.runner.Paused())
}

func TestNotificationStatsEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())

	rec, _ := do(t, fx.server, http.MethodPost, "/royalties/claim",
		`{"chapterId":"chapter-1","authorAddress":"`+testAuthor+`","licenseTermsId":"premium"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, fx.server, http.MethodGet, "/notifications/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	stats := env.Data.(map[string]any)
	require.Equal(t, float64(1), stats["sent"])
}

func TestHealthEndpoint(t *testing.T) {
	fx := newFixture(t, workingAdapter())
	rec, env := do(t, fx.server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
}

func mustJSON(t *testing.T, value any) []byte {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	return data
}
