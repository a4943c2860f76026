package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/homeflowhq/homeflow/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		JWTSecret:          "server-test-secret",
		RateLimitRPM:       100000,
		AllowedOrigins:     []string{"*"},
		WebhookTimeoutSecs: 1,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func parseBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

// registerUser creates an account and returns its ID and bearer token.
func registerUser(t *testing.T, s *Server, email, name, role string) (string, string) {
	t.Helper()
	w := doJSON(t, s, "POST", "/v1/users", "",
		fmt.Sprintf(`{"email":%q,"full_name":%q,"role":%q}`, email, name, role))
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: expected 200, got %d: %s", email, w.Code, w.Body.String())
	}
	resp := parseBody(t, w)
	u := resp["user"].(map[string]interface{})
	return u["id"].(string), resp["token"].(string)
}

// ---------------------------------------------------------------------------
// Health and metrics
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp := parseBody(t, w); resp["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", resp["status"])
	}
}

func TestReadinessEndpoint_NotReadyBeforeRun(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/ready", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}

	s.ready.Store(true)
	w = doJSON(t, s, "GET", "/health/ready", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 once ready, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "homeflow_") {
		t.Error("Expected homeflow namespace metrics in output")
	}
}

// ---------------------------------------------------------------------------
// Auth boundaries
// ---------------------------------------------------------------------------

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{"POST", "/v1/offers"},
		{"GET", "/v1/users/me"},
		{"POST", "/v1/listings"},
		{"POST", "/v1/webhooks"},
	} {
		w := doJSON(t, s, tc.method, tc.path, "", "{}")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without token, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestListingReadsArePublic(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/listings", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for anonymous listing search, got %d", w.Code)
	}
}

func TestBuyerCannotCreateListing(t *testing.T) {
	s := newTestServer(t)
	_, buyerToken := registerUser(t, s, "buyer@example.com", "Blake Buyer", "BUYER")

	w := doJSON(t, s, "POST", "/v1/listings", buyerToken,
		`{"title":"Condo","description":"A condo","price":100}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for buyer creating listing, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Full negotiation flow
// ---------------------------------------------------------------------------

func TestOfferNegotiationFlow(t *testing.T) {
	s := newTestServer(t)

	_, sellerToken := registerUser(t, s, "seller@example.com", "Sam Seller", "SELLER")
	buyerID, buyerToken := registerUser(t, s, "buyer@example.com", "Blake Buyer", "BUYER")

	// Seller lists a property
	w := doJSON(t, s, "POST", "/v1/listings", sellerToken,
		`{"title":"Spacious Loft","description":"Spacious modern loft downtown","price":500000}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create listing: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	listingID := parseBody(t, w)["id"].(string)

	// Buyer submits an offer
	w = doJSON(t, s, "POST", "/v1/offers", buyerToken,
		fmt.Sprintf(`{"listing_id":%q,"amount":400000}`, listingID))
	if w.Code != http.StatusCreated {
		t.Fatalf("submit offer: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	offerResp := parseBody(t, w)
	offerID := offerResp["id"].(string)
	if offerResp["status"] != "PENDING" {
		t.Errorf("Expected PENDING offer, got %v", offerResp["status"])
	}
	if offerResp["buyer_id"] != buyerID {
		t.Errorf("Expected buyer_id %s, got %v", buyerID, offerResp["buyer_id"])
	}

	// Seller counters at 450000
	w = doJSON(t, s, "POST", "/v1/offers/"+offerID+"/respond", sellerToken,
		`{"action":"counter","amount":450000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("counter: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	countered := parseBody(t, w)
	if countered["status"] != "COUNTERED" {
		t.Errorf("Expected COUNTERED, got %v", countered["status"])
	}
	if countered["amount"].(float64) != 450000 {
		t.Errorf("Expected amount 450000, got %v", countered["amount"])
	}

	// No escrow exists yet
	w = doJSON(t, s, "GET", "/v1/offers/"+offerID+"/escrow", buyerToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get escrow: expected 200, got %d", w.Code)
	}
	if parseBody(t, w)["escrow"] != nil {
		t.Error("Expected no escrow before acceptance")
	}

	// Seller accepts
	w = doJSON(t, s, "POST", "/v1/offers/"+offerID+"/respond", sellerToken,
		`{"action":"accept"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := parseBody(t, w); resp["status"] != "ACCEPTED" {
		t.Errorf("Expected ACCEPTED, got %v", resp["status"])
	}

	// Acceptance opened an escrow
	w = doJSON(t, s, "GET", "/v1/offers/"+offerID+"/escrow", buyerToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get escrow: expected 200, got %d", w.Code)
	}
	escrowObj, ok := parseBody(t, w)["escrow"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected escrow after acceptance, got %s", w.Body.String())
	}
	if escrowObj["status"] != "OPEN" {
		t.Errorf("Expected OPEN escrow, got %v", escrowObj["status"])
	}
	escrowID := escrowObj["id"].(string)

	// Responding again is a conflict
	w = doJSON(t, s, "POST", "/v1/offers/"+offerID+"/respond", sellerToken,
		`{"action":"decline"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 responding to resolved offer, got %d", w.Code)
	}

	// Negotiation history reflects both responses
	w = doJSON(t, s, "GET", "/v1/offers/"+offerID+"/history", buyerToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	history := parseBody(t, w)["history"].([]interface{})
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	first := history[0].(map[string]interface{})
	if first["message"] != "COUNTER:450000" {
		t.Errorf("Expected COUNTER:450000, got %v", first["message"])
	}
	second := history[1].(map[string]interface{})
	if second["message"] != "ACCEPT" {
		t.Errorf("Expected ACCEPT, got %v", second["message"])
	}

	// Buyer uploads a document into escrow
	w = doJSON(t, s, "POST", "/v1/escrows/"+escrowID+"/documents", buyerToken,
		`{"name":"inspection.pdf","s3_key":"documents/abc123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add document: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Seller moves escrow along
	w = doJSON(t, s, "PUT", "/v1/escrows/"+escrowID+"/status", sellerToken,
		`{"status":"IN_PROGRESS"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Escrow read includes the document
	w = doJSON(t, s, "GET", "/v1/escrows/"+escrowID, buyerToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get escrow by id: expected 200, got %d", w.Code)
	}
	full := parseBody(t, w)
	if full["status"] != "IN_PROGRESS" {
		t.Errorf("Expected IN_PROGRESS, got %v", full["status"])
	}
	docs := full["documents"].([]interface{})
	if len(docs) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(docs))
	}
	if docs[0].(map[string]interface{})["name"] != "inspection.pdf" {
		t.Errorf("Unexpected document: %v", docs[0])
	}
}

func TestDeclineFlow_NoEscrow(t *testing.T) {
	s := newTestServer(t)

	_, sellerToken := registerUser(t, s, "seller@example.com", "Sam Seller", "SELLER")
	_, buyerToken := registerUser(t, s, "buyer@example.com", "Blake Buyer", "BUYER")

	w := doJSON(t, s, "POST", "/v1/listings", sellerToken,
		`{"title":"Bungalow","description":"Cozy garden bungalow","price":300000}`)
	listingID := parseBody(t, w)["id"].(string)

	w = doJSON(t, s, "POST", "/v1/offers", buyerToken,
		fmt.Sprintf(`{"listing_id":%q,"amount":250000}`, listingID))
	offerID := parseBody(t, w)["id"].(string)

	w = doJSON(t, s, "POST", "/v1/offers/"+offerID+"/respond", sellerToken,
		`{"action":"decline"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("decline: expected 200, got %d", w.Code)
	}
	if resp := parseBody(t, w); resp["status"] != "DECLINED" {
		t.Errorf("Expected DECLINED, got %v", resp["status"])
	}

	w = doJSON(t, s, "GET", "/v1/offers/"+offerID+"/escrow", buyerToken, "")
	if parseBody(t, w)["escrow"] != nil {
		t.Error("Decline must not open an escrow")
	}
}

func TestCounterWithoutAmountRejected(t *testing.T) {
	s := newTestServer(t)

	_, sellerToken := registerUser(t, s, "seller@example.com", "Sam Seller", "SELLER")
	_, buyerToken := registerUser(t, s, "buyer@example.com", "Blake Buyer", "BUYER")

	w := doJSON(t, s, "POST", "/v1/listings", sellerToken,
		`{"title":"Flat","description":"Updated flat","price":200000}`)
	listingID := parseBody(t, w)["id"].(string)

	w = doJSON(t, s, "POST", "/v1/offers", buyerToken,
		fmt.Sprintf(`{"listing_id":%q,"amount":150000}`, listingID))
	offerID := parseBody(t, w)["id"].(string)

	w = doJSON(t, s, "POST", "/v1/offers/"+offerID+"/respond", sellerToken,
		`{"action":"counter"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for counter without amount, got %d", w.Code)
	}
	if resp := parseBody(t, w); resp["error"] != "counter_amount_required" {
		t.Errorf("Expected counter_amount_required, got %v", resp["error"])
	}

	// Offer untouched
	w = doJSON(t, s, "GET", "/v1/offers/"+offerID, buyerToken, "")
	if resp := parseBody(t, w); resp["status"] != "PENDING" {
		t.Errorf("Expected offer still PENDING, got %v", resp["status"])
	}
}

// ---------------------------------------------------------------------------
// Webhook subscriptions over HTTP
// ---------------------------------------------------------------------------

func TestWebhookSubscriptionRoutes(t *testing.T) {
	s := newTestServer(t)
	_, token := registerUser(t, s, "buyer@example.com", "Blake Buyer", "BUYER")

	w := doJSON(t, s, "POST", "/v1/webhooks", token,
		`{"url":"https://example.com/hook","secret":"s3cret","events":["offer.accepted"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create subscription: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	subID := parseBody(t, w)["id"].(string)

	w = doJSON(t, s, "GET", "/v1/webhooks", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list subscriptions: expected 200, got %d", w.Code)
	}
	subs := parseBody(t, w)["subscriptions"].([]interface{})
	if len(subs) != 1 {
		t.Fatalf("Expected 1 subscription, got %d", len(subs))
	}

	w = doJSON(t, s, "DELETE", "/v1/webhooks/"+subID, token, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete subscription: expected 204, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Account deletion
// ---------------------------------------------------------------------------

func TestAnonymizeRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	buyerID, buyerToken := registerUser(t, s, "buyer@example.com", "Blake Buyer", "BUYER")
	_, adminToken := registerUser(t, s, "admin@example.com", "Ada Admin", "ADMIN")

	w := doJSON(t, s, "DELETE", "/v1/users/"+buyerID, buyerToken, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin delete, got %d", w.Code)
	}

	w = doJSON(t, s, "DELETE", "/v1/users/"+buyerID, adminToken, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for admin delete, got %d: %s", w.Code, w.Body.String())
	}

	// Scrubbed account no longer resolves by old identity
	w = doJSON(t, s, "GET", "/v1/users/me", buyerToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("me after anonymize: expected 200, got %d", w.Code)
	}
	me := parseBody(t, w)
	if me["full_name"] != "Deleted User" {
		t.Errorf("Expected scrubbed name, got %v", me["full_name"])
	}
}

func TestSelfAnonymize(t *testing.T) {
	s := newTestServer(t)
	_, token := registerUser(t, s, "seller@example.com", "Sam Seller", "SELLER")

	w := doJSON(t, s, "DELETE", "/v1/users/me", token, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 for self delete, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "GET", "/v1/users/me", token, "")
	if me := parseBody(t, w); me["full_name"] != "Deleted User" {
		t.Errorf("Expected scrubbed name, got %v", me["full_name"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header on responses")
	}
}
