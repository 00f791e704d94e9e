package guardian

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
	"github.com/OV1-Kenobi/satnam-pub-sub020/monitor"
	"github.com/OV1-Kenobi/satnam-pub-sub020/rotation"
	"github.com/OV1-Kenobi/satnam-pub-sub020/shamir"
	"github.com/OV1-Kenobi/satnam-pub-sub020/signing"
	"github.com/OV1-Kenobi/satnam-pub-sub020/storage"
)

const (
	guardianOne = "1111111111111111111111111111111111111111111111111111111111111111"
	guardianTwo = "2222222222222222222222222222222222222222222222222222222222222222"

	testDigest = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

	// Below the curve order so Shamir splitting accepts it.
	testSecretHex = "00a1b2c3d4e5f60718293a4b5c6d7e8f908172635445362718090a0b0c0d0e0f"
)

// acceptAllScheme passes every commitment and partial through, so handler
// tests exercise routing and state handling rather than cryptography.
type acceptAllScheme struct{}

func (acceptAllScheme) ValidateCommitment(interfaces.GuardianID, []byte) error { return nil }

func (acceptAllScheme) VerifyPartial(interfaces.GuardianID, []byte, [][]byte, []byte) error {
	return nil
}

func (acceptAllScheme) Aggregate([][]byte, [][]byte, []byte) ([]byte, error) {
	return []byte("final-signature"), nil
}

type testServer struct {
	srv   *httptest.Server
	store interfaces.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := storage.NewMemoryStore()
	log := slog.Default()

	signPublish := func(ctx context.Context, secretKey, template []byte) (string, error) {
		return "event-1", nil
	}

	handler := NewHandler(
		signing.NewSessionService(store, acceptAllScheme{}, log),
		signing.NewReconstructionService(store, signPublish, log),
		rotation.NewScheduler(store, log),
		rotation.NewAuditor(store, log),
		monitor.New(store, log),
		log,
	)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var session SessionResponse
	status := ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		FamilyID:      "family-1",
		MessageDigest: testDigest,
		Participants:  []string{guardianOne, guardianTwo},
		Threshold:     2,
	}, &session)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(interfaces.SessionPending), session.Status)
	assert.Greater(t, session.ExpiresAt, session.CreatedAt)

	base := "/api/v1/sessions/" + session.ID

	status = ts.do(t, http.MethodPost, base+"/commitments",
		SubmitValueRequest{Participant: guardianOne, Value: "aa01"}, &session)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(interfaces.SessionPending), session.Status)

	status = ts.do(t, http.MethodPost, base+"/commitments",
		SubmitValueRequest{Participant: guardianTwo, Value: "aa02"}, &session)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(interfaces.SessionCollectingCommitments), session.Status)

	status = ts.do(t, http.MethodPost, base+"/partials",
		SubmitValueRequest{Participant: guardianOne, Value: "bb01"}, &session)
	require.Equal(t, http.StatusOK, status)
	status = ts.do(t, http.MethodPost, base+"/partials",
		SubmitValueRequest{Participant: guardianTwo, Value: "bb02"}, &session)
	require.Equal(t, http.StatusOK, status)

	status = ts.do(t, http.MethodPost, base+"/aggregate", nil, &session)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(interfaces.SessionCompleted), session.Status)
	assert.NotEmpty(t, session.FinalSignature)

	var fetched SessionResponse
	status = ts.do(t, http.MethodGet, base, nil, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.FinalSignature, fetched.FinalSignature)
}

func TestSessionErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	var errResp map[string]string
	status := ts.do(t, http.MethodGet, "/api/v1/sessions/missing", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(interfaces.ErrCodeNotFound), errResp["code"])

	status = ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		FamilyID:      "family-1",
		MessageDigest: testDigest,
		Participants:  []string{guardianOne, guardianTwo},
		Threshold:     5,
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(interfaces.ErrCodeValidation), errResp["code"])

	var session SessionResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		FamilyID:      "family-1",
		MessageDigest: testDigest,
		Participants:  []string{guardianOne, guardianTwo},
		Threshold:     2,
	}, &session))

	base := "/api/v1/sessions/" + session.ID
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/commitments",
		SubmitValueRequest{Participant: guardianOne, Value: "aa01"}, nil))

	// Replaying the same commitment value conflicts.
	status = ts.do(t, http.MethodPost, base+"/commitments",
		SubmitValueRequest{Participant: guardianOne, Value: "aa01"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(interfaces.ErrCodeReplay), errResp["code"])
}

func TestReconstructionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	raw, err := hex.DecodeString(testSecretHex)
	require.NoError(t, err)
	shares, err := shamir.Split(shamir.NewSecretBuffer(raw), 2, 3, "family-1")
	require.NoError(t, err)

	var request RequestResponse
	status := ts.do(t, http.MethodPost, "/api/v1/requests", CreateReconstructionRequest{
		FamilyID:      "family-1",
		Guardians:     []string{guardianOne, guardianTwo},
		Threshold:     2,
		EventTemplate: json.RawMessage(`{"kind":1,"content":"hello"}`),
	}, &request)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, string(interfaces.RequestPending), request.Status)

	base := "/api/v1/requests/" + request.ID

	status = ts.do(t, http.MethodPost, base+"/shares", SubmitShareRequest{
		Guardian: guardianOne,
		Index:    shares[0].Index,
		Value:    shares[0].Hex(),
	}, &request)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(interfaces.RequestPending), request.Status)

	status = ts.do(t, http.MethodPost, base+"/shares", SubmitShareRequest{
		Guardian: guardianTwo,
		Index:    shares[1].Index,
		Value:    shares[1].Hex(),
	}, &request)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(interfaces.RequestCompleted), request.Status)
	assert.Equal(t, "event-1", request.FinalEventID)
}

func TestRecommendationEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var rec RecommendationResponse
	status := ts.do(t, http.MethodGet, "/api/v1/policy/recommendation?use_case=routine", nil, &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "never_reconstruct", rec.Method)
	assert.Equal(t, "multi_round", rec.Latency)

	status = ts.do(t, http.MethodGet,
		"/api/v1/policy/recommendation?use_case=routine&override=temporarily_reconstruct", nil, &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "temporarily_reconstruct", rec.Method)
	assert.Equal(t, "single_round", rec.Latency)

	var errResp map[string]string
	status = ts.do(t, http.MethodGet, "/api/v1/policy/recommendation?override=bogus", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var schedule ScheduleResponse
	status := ts.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		UserID: "user-1",
	}, &schedule)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, rotation.DefaultIntervalDays, schedule.IntervalDays)
	assert.True(t, schedule.Enabled)

	base := "/api/v1/schedules/" + schedule.ID

	var fetched ScheduleResponse
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, base, nil, &fetched))
	assert.Equal(t, schedule.ID, fetched.ID)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/users/user-1/schedule", nil, &fetched))
	assert.Equal(t, schedule.ID, fetched.ID)

	status = ts.do(t, http.MethodPut, base+"/interval", UpdateIntervalRequest{IntervalDays: 45}, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 45, fetched.IntervalDays)

	var errResp map[string]string
	status = ts.do(t, http.MethodPut, base+"/interval", UpdateIntervalRequest{IntervalDays: 5}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	status = ts.do(t, http.MethodPut, base+"/enabled", SetEnabledRequest{Enabled: false}, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, fetched.Enabled)
	assert.Equal(t, "none", fetched.Notification)
}

func TestRotationReportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	auditor := rotation.NewAuditor(ts.store, slog.Default())
	_, err := auditor.StartTrail(ctx, "rotation-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, auditor.AddEntry(ctx, "rotation-1", "rotation_started", "coordinator", "begin"))
	require.NoError(t, auditor.MarkCompleted(ctx, "rotation-1"))

	var report RotationReportResponse
	status := ts.do(t, http.MethodGet, "/api/v1/rotations/rotation-1/report", nil, &report)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "rotation-1", report.RotationID)
	assert.Equal(t, string(interfaces.TrailCompleted), report.Status)
	assert.GreaterOrEqual(t, report.EntryCount, 1)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var health struct {
		Metrics monitor.Metrics `json:"metrics"`
		Alert   bool            `json:"alert"`
	}
	status := ts.do(t, http.MethodGet, "/api/v1/health/metrics", nil, &health)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, health.Alert)

	var activity struct {
		Activity []monitor.Activity `json:"activity"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/health/activity?limit=5", nil, &activity))
	assert.Empty(t, activity.Activity)

	var errResp map[string]string
	status = ts.do(t, http.MethodGet, "/api/v1/health/activity?limit=zero", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	// Seed one completed session and confirm it shows up.
	var session SessionResponse
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		FamilyID:      "family-1",
		MessageDigest: testDigest,
		Participants:  []string{guardianOne, guardianTwo},
		Threshold:     2,
	}, &session))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/fail", session.ID), FailRequestBody{Reason: "operator abort"}, nil))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/health/activity", nil, &activity))
	require.Len(t, activity.Activity, 1)
	assert.Equal(t, session.ID, activity.Activity[0].ID)
}
