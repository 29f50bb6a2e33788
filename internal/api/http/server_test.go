package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appNegotiation "github.com/homemarket/negotiation-engine/internal/application/negotiation"
	"github.com/homemarket/negotiation-engine/internal/domain/listing"
	domain "github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/memory"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/sse"
	"github.com/homemarket/negotiation-engine/internal/metrics"
	"github.com/homemarket/negotiation-engine/internal/policy"
)

const userHeader = "X-User-Id"

type fixture struct {
	t       *testing.T
	hub     *sse.Hub
	metrics *metrics.Metrics
	svc     *appNegotiation.Service
	handler http.Handler
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	catalog := memory.NewListingCatalog([]listing.Listing{
		{PropertyID: "P1", SellerID: "seller-1", ListPrice: 375000},
		{PropertyID: "P2", SellerID: "seller-2", ListPrice: 500000},
	})
	f := &fixture{t: t, hub: sse.NewHub(), metrics: metrics.New("httptest")}
	f.svc = appNegotiation.NewService(memory.NewNegotiationStore(), catalog, f.hub, f.metrics, zerolog.Nop(), 0)
	opts := Options{
		Negotiations: f.svc,
		Verifier:     identity.TrustedHeader{},
		Hub:          f.hub,
		Metrics:      f.metrics,
		Logger:       zerolog.Nop(),
		TrustHeader:  userHeader,
	}
	for _, c := range configure {
		c(&opts)
	}
	f.handler = NewServer(opts).Router()
	t.Cleanup(f.hub.Stop)
	return f
}

func (f *fixture) do(method, path, user, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) open(user, propertyID string, amount int64) *domain.Negotiation {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/negotiations", user, fmt.Sprintf(`{"property_id":%q,"offer_amount":%d}`, propertyID, amount))
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeNegotiation(f.t, rec)
}

func decodeNegotiation(t *testing.T, rec *httptest.ResponseRecorder) *domain.Negotiation {
	t.Helper()
	var n domain.Negotiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	return &n
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestNegotiationFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/negotiations", "buyer-1",
		`{"property_id":"P1","offer_amount":"350000.40","metadata":{"payment_method":"mortgage","move_in_date":"2026-12-01"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	n := decodeNegotiation(t, rec)
	assert.Equal(t, int64(350000), n.CurrentOffer)
	assert.Equal(t, "seller-1", n.SellerID)
	assert.Equal(t, "mortgage", n.Metadata.PaymentMethod)
	require.NotNil(t, n.AwaitingResponseFrom)
	assert.Equal(t, domain.RoleSeller, *n.AwaitingResponseFrom)

	path := "/v1/negotiations/" + n.NegotiationID.String()
	rec = f.do(http.MethodPost, path+"/counter", "seller-1", `{"offer_amount":360000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n = decodeNegotiation(t, rec)
	assert.Equal(t, int64(360000), n.CurrentOffer)
	assert.Equal(t, domain.RoleSeller, n.LastOfferBy)

	rec = f.do(http.MethodPut, path, "buyer-1", `{"action":"accept"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n = decodeNegotiation(t, rec)
	assert.Equal(t, domain.StatusAccepted, n.Status)
	assert.Nil(t, n.AwaitingResponseFrom)
	require.Len(t, n.Transactions, 3)
	assert.Equal(t, domain.ActionAccept, n.Transactions[2].Action)
	assert.Equal(t, int64(360000), n.Transactions[2].OfferAmount)

	rec = f.do(http.MethodPost, path+"/reject", "seller-1", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "ALREADY_FINALIZED", e.Error)
	assert.False(t, e.Retryable)

	rec = f.do(http.MethodGet, path, "seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeNegotiation(t, rec).Transactions, 3)
}

func TestSubmitOffer_CounterThroughSharedEndpoint(t *testing.T) {
	f := newFixture(t)
	n := f.open("buyer-1", "P1", 350000)

	rec := f.do(http.MethodPost, "/v1/negotiations", "seller-1",
		fmt.Sprintf(`{"negotiation_id":%q,"offer_amount":365000}`, n.NegotiationID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(365000), decodeNegotiation(t, rec).CurrentOffer)

	// second counter in a row by the seller breaks alternation
	rec = f.do(http.MethodPost, "/v1/negotiations", "seller-1",
		fmt.Sprintf(`{"negotiation_id":%q,"offer_amount":364000}`, n.NegotiationID))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rec).Error)
}

func TestSubmitOffer_Errors(t *testing.T) {
	f := newFixture(t)
	f.open("buyer-1", "P1", 350000)

	tests := []struct {
		name   string
		user   string
		body   string
		status int
		code   string
	}{
		{"zero amount", "buyer-2", `{"property_id":"P1","offer_amount":0}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"non numeric amount", "buyer-2", `{"property_id":"P1","offer_amount":"lots"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"missing amount", "buyer-2", `{"property_id":"P1"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"missing property", "buyer-2", `{"offer_amount":1}`, http.StatusBadRequest, "INVALID_PARAM"},
		{"unknown field", "buyer-2", `{"property_id":"P1","offer_amount":1,"price":2}`, http.StatusBadRequest, "INVALID_PARAM"},
		{"unknown property", "buyer-2", `{"property_id":"P9","offer_amount":1}`, http.StatusNotFound, "NOT_FOUND"},
		{"seller on own listing", "seller-1", `{"property_id":"P1","offer_amount":1}`, http.StatusForbidden, "FORBIDDEN"},
		{"active exists", "buyer-1", `{"property_id":"P1","offer_amount":355000}`, http.StatusConflict, "ACTIVE_NEGOTIATION_EXISTS"},
		{"huge exponent", "buyer-2", `{"property_id":"P1","offer_amount":1e2000000000}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"tiny exponent", "buyer-2", `{"property_id":"P1","offer_amount":"1e-2000000000"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"oversized body", "buyer-2", `{"property_id":"P1","offer_amount":1,"metadata":{"note":"` + strings.Repeat("x", maxBodyBytes) + `"}}`, http.StatusBadRequest, "INVALID_PARAM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/negotiations", tt.user, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestNegotiationActions_Errors(t *testing.T) {
	f := newFixture(t)
	n := f.open("buyer-1", "P1", 350000)
	path := "/v1/negotiations/" + n.NegotiationID.String()

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"bad id", http.MethodGet, "/v1/negotiations/not-a-uuid", "buyer-1", "", http.StatusBadRequest, "INVALID_PARAM"},
		{"missing", http.MethodGet, "/v1/negotiations/" + uuid.NewString(), "buyer-1", "", http.StatusNotFound, "NOT_FOUND"},
		{"outsider get", http.MethodGet, path, "buyer-9", "", http.StatusForbidden, "NOT_A_PARTY"},
		{"outsider accept", http.MethodPost, path + "/accept", "buyer-9", "", http.StatusForbidden, "NOT_A_PARTY"},
		{"buyer accepts own offer", http.MethodPost, path + "/accept", "buyer-1", "", http.StatusForbidden, "FORBIDDEN"},
		{"seller cancels buyer offer", http.MethodPost, path + "/cancel", "seller-1", "", http.StatusForbidden, "FORBIDDEN"},
		{"unknown action", http.MethodPut, path, "seller-1", `{"action":"haggle"}`, http.StatusBadRequest, "INVALID_PARAM"},
		{"offer via put", http.MethodPut, path, "seller-1", `{"action":"offer"}`, http.StatusBadRequest, "INVALID_PARAM"},
		{"counter without amount", http.MethodPut, path, "seller-1", `{"action":"counter"}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"negative counter", http.MethodPost, path + "/counter", "seller-1", `{"offer_amount":-5}`, http.StatusBadRequest, "INVALID_AMOUNT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.user, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}

	// nothing above reached the ledger
	rec := f.do(http.MethodGet, path, "buyer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeNegotiation(t, rec).Transactions, 1)
}

func TestCancelThenResubmit(t *testing.T) {
	f := newFixture(t)
	first := f.open("buyer-1", "P1", 350000)

	rec := f.do(http.MethodPost, "/v1/negotiations/"+first.NegotiationID.String()+"/cancel", "buyer-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusCancelled, decodeNegotiation(t, rec).Status)

	second := f.open("buyer-1", "P1", 352000)
	assert.NotEqual(t, first.NegotiationID, second.NegotiationID)
}

func TestListNegotiations(t *testing.T) {
	f := newFixture(t)
	f.open("buyer-1", "P1", 350000)
	time.Sleep(2 * time.Millisecond)
	f.open("buyer-1", "P2", 480000)
	time.Sleep(2 * time.Millisecond)
	f.open("buyer-2", "P1", 340000)

	var list negotiationListResponse
	rec := f.do(http.MethodGet, "/v1/negotiations?role=buyer", "buyer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "P2", list.Items[0].PropertyID)

	rec = f.do(http.MethodGet, "/v1/negotiations?role=seller&limit=1&offset=1", "seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "buyer-1", list.Items[0].BuyerID)
	assert.Equal(t, 1, list.Limit)
	assert.Equal(t, 1, list.Offset)

	rec = f.do(http.MethodGet, "/v1/negotiations?role=agent", "seller-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/negotiations", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Error)

	rec = f.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_BearerToken(t *testing.T) {
	verifier, err := identity.NewJWTVerifier("secret", "negotiation", 0)
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) {
		o.Verifier = verifier
		o.TrustHeader = ""
	})

	// the trusted header is ignored when not configured
	rec := f.do(http.MethodGet, "/v1/negotiations", "buyer-1", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := identity.SignToken("secret", "negotiation", "buyer-1", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/negotiations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 1}
	})
	f.open("buyer-1", "P1", 350000)

	rec := f.do(http.MethodPost, "/v1/negotiations", "buyer-1", `{"property_id":"P2","offer_amount":480000}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "RATE_LIMITED", e.Error)
	assert.True(t, e.Retryable)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// buckets are per caller, and reads are not limited
	f.open("buyer-2", "P2", 480000)
	rec = f.do(http.MethodGet, "/v1/negotiations", "buyer-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_SweepsIdleCallers(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	l.clockNow = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, l.allow("b"))
	l.mu.Lock()
	_, kept := l.visitors["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestOfferPolicyViolation(t *testing.T) {
	p, err := policy.Compile("amount >= list_price * 0.9")
	require.NoError(t, err)
	f := newFixture(t)
	f.svc.WithPolicy(p)

	rec := f.do(http.MethodPost, "/v1/negotiations", "buyer-1", `{"property_id":"P1","offer_amount":300000}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "POLICY_VIOLATION", decodeError(t, rec).Error)

	f.open("buyer-1", "P1", 340000)
}

func TestStreamEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set(userHeader, "seller-1")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	n := f.open("buyer-1", "P1", 350000)

	reader := bufio.NewReader(resp.Body)
	var eventName, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, string(domain.EventOfferSubmitted), eventName)

	var msg sse.Message
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	var event domain.Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, n.NegotiationID, event.NegotiationID)
	assert.Equal(t, "seller-1", event.Recipient())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.open("buyer-1", "P1", 350000)

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "httptest_transitions_total")
	assert.Contains(t, body, "httptest_http_requests_total")
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Ready = func(context.Context) error { return errors.New("db down") }
	})
	rec := f.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", decodeError(t, rec).Error)
}

type fakeCluster struct {
	leader bool
	added  map[string]string
}

func (c *fakeCluster) AddVoter(_ context.Context, nodeID, raftAddr string) error {
	c.added[nodeID] = raftAddr
	return nil
}

func (c *fakeCluster) RemoveServer(_ context.Context, nodeID string) error {
	if _, ok := c.added[nodeID]; !ok {
		return errors.New("unknown server")
	}
	delete(c.added, nodeID)
	return nil
}

func (c *fakeCluster) Stats() map[string]string { return map[string]string{"state": "Leader"} }
func (c *fakeCluster) IsLeader() bool           { return c.leader }
func (c *fakeCluster) LeaderAddr() string       { return "127.0.0.1:7000" }

func TestClusterEndpoints(t *testing.T) {
	cluster := &fakeCluster{added: map[string]string{}}
	f := newFixture(t, func(o *Options) { o.Cluster = cluster })

	rec := f.do(http.MethodPost, "/v1/cluster/voters", "node:n2", `{"node_id":"n2","raft_addr":"127.0.0.1:7001"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "NOT_LEADER", e.Error)
	assert.True(t, e.Retryable)

	cluster.leader = true
	rec = f.do(http.MethodPost, "/v1/cluster/voters", "node:n2", `{"node_id":"n2"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/cluster/voters", "node:n2", `{"node_id":"n2","raft_addr":"127.0.0.1:7001"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "127.0.0.1:7001", cluster.added["n2"])

	rec = f.do(http.MethodGet, "/v1/cluster", "ops", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats clusterStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.IsLeader)
	assert.Equal(t, "Leader", stats.RaftStats["state"])

	rec = f.do(http.MethodDelete, "/v1/cluster/voters/n2", "ops", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cluster.added)
}

func TestClusterRoutesAbsentWithoutCluster(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/v1/cluster", "ops", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{fmt.Errorf("x: %w", domain.ErrUnknownAction), http.StatusBadRequest, "INVALID_PARAM"},
		{domain.ErrNotAParty, http.StatusForbidden, "NOT_A_PARTY"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrAlreadyFinalized, http.StatusConflict, "ALREADY_FINALIZED"},
		{domain.ErrActiveNegotiationExists, http.StatusConflict, "ACTIVE_NEGOTIATION_EXISTS"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("%w: tried 3 times", domain.ErrBusy), http.StatusServiceUnavailable, "BUSY"},
		{fmt.Errorf("%w: too low", policy.ErrViolation), http.StatusUnprocessableEntity, "POLICY_VIOLATION"},
		{fmt.Errorf("replicate commit: %w", raft.ErrNotLeader), http.StatusServiceUnavailable, "NOT_LEADER"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
	assert.True(t, retryableCode("BUSY"))
	assert.True(t, retryableCode("CONFLICT"))
	assert.False(t, retryableCode("FORBIDDEN"))
}
