package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmarchuk/contentledger/internal/domain"
	"github.com/dmarchuk/contentledger/internal/ledger"
	"github.com/dmarchuk/contentledger/internal/rate"
	"github.com/dmarchuk/contentledger/internal/treasury"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) (*httptest.Server, *treasury.MemoryTreasury) {
	t.Helper()
	custody := treasury.NewMemoryTreasury()
	l, err := ledger.New("platform-owner", 10, custody, ledger.Options{})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	srv := httptest.NewServer(NewRouter(NewHandler(l, limiter, nil)))
	t.Cleanup(srv.Close)
	return srv, custody
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestContentLifecycleOverHTTP(t *testing.T) {
	srv, custody := newTestServer(t, nil)
	custody.Fund("bob", 5000)

	// Register.
	resp := postJSON(t, srv.URL+"/api/v1/contents", domain.RegisterRequest{
		Creator: "alice", ContentID: "art-1", Price: 1000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var rec domain.ContentRecord
	decodeBody(t, resp, &rec)
	if rec.Creator != "alice" || rec.Price != 1000 {
		t.Fatalf("unexpected content record: %+v", rec)
	}

	// Duplicate registration conflicts.
	resp = postJSON(t, srv.URL+"/api/v1/contents", domain.RegisterRequest{
		Creator: "bob", ContentID: "art-1", Price: 1,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", resp.StatusCode)
	}

	// Access is false pre-payment.
	var access domain.AccessResponse
	getResp, err := http.Get(srv.URL + "/api/v1/contents/art-1/access/bob")
	if err != nil {
		t.Fatalf("access check: %v", err)
	}
	decodeBody(t, getResp, &access)
	if access.Access {
		t.Fatal("access granted before payment")
	}

	// Pay.
	resp = postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "art-1", Amount: 1000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("payment status = %d", resp.StatusCode)
	}
	var receipt domain.PaymentReceipt
	decodeBody(t, resp, &receipt)
	if receipt.CreatorShare != 900 || receipt.PlatformFee != 100 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	// Duplicate payment conflicts.
	resp = postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "art-1", Amount: 1000,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate payment status = %d, want 409", resp.StatusCode)
	}

	// Access is true post-payment.
	getResp, err = http.Get(srv.URL + "/api/v1/contents/art-1/access/bob")
	if err != nil {
		t.Fatalf("access check: %v", err)
	}
	decodeBody(t, getResp, &access)
	if !access.Access {
		t.Fatal("no access after payment")
	}

	// Balance.
	var balance domain.BalanceResponse
	getResp, err = http.Get(srv.URL + "/api/v1/balances/alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	decodeBody(t, getResp, &balance)
	if balance.Balance != 900 {
		t.Fatalf("creator balance = %d, want 900", balance.Balance)
	}

	// Withdraw.
	resp = postJSON(t, srv.URL+"/api/v1/withdrawals", domain.WithdrawRequest{Creator: "alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("withdrawal status = %d", resp.StatusCode)
	}
	var wr domain.WithdrawReceipt
	decodeBody(t, resp, &wr)
	if wr.Amount != 900 {
		t.Fatalf("withdrawal amount = %d, want 900", wr.Amount)
	}
	if custody.Balance("alice") != 900 {
		t.Fatalf("creator external balance = %d, want 900", custody.Balance("alice"))
	}

	// Empty balance withdrawal is rejected.
	resp = postJSON(t, srv.URL+"/api/v1/withdrawals", domain.WithdrawRequest{Creator: "alice"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty withdrawal status = %d, want 422", resp.StatusCode)
	}
}

func TestPaymentErrorStatuses(t *testing.T) {
	srv, custody := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "missing", Amount: 10,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown content status = %d, want 404", resp.StatusCode)
	}

	postJSON(t, srv.URL+"/api/v1/contents", domain.RegisterRequest{
		Creator: "alice", ContentID: "art-1", Price: 1000,
	}).Body.Close()

	// Wrong amount.
	resp = postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "art-1", Amount: 500,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("wrong amount status = %d, want 422", resp.StatusCode)
	}

	// Unfunded buyer.
	resp = postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "art-1", Amount: 1000,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unfunded buyer status = %d, want 402", resp.StatusCode)
	}

	custody.Fund("bob", 1000)
	resp = postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "art-1", Amount: 1000,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("funded payment status = %d, want 201", resp.StatusCode)
	}
}

func TestFeeEndpointAuthorization(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body, _ := json.Marshal(domain.FeeRequest{Caller: "mallory", FeePercent: 50})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/fee", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT fee: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner fee update status = %d, want 403", resp.StatusCode)
	}

	body, _ = json.Marshal(domain.FeeRequest{Caller: "platform-owner", FeePercent: 25})
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/v1/fee", bytes.NewReader(body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT fee: %v", err)
	}
	var updated map[string]int
	decodeBody(t, resp, &updated)
	if resp.StatusCode != http.StatusOK || updated["fee_percent"] != 25 {
		t.Fatalf("owner fee update status = %d body = %v", resp.StatusCode, updated)
	}
}

func TestPaymentRateLimiting(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := rate.NewLimiter(rate.NewRedisWindowStore(client), 2, 0)
	srv, custody := newTestServer(t, limiter)
	custody.Fund("bob", 10000)

	for i := 0; i < 3; i++ {
		postJSON(t, srv.URL+"/api/v1/contents", domain.RegisterRequest{
			Creator: "alice", ContentID: fmt.Sprintf("c-%d", i), Price: 100,
		}).Body.Close()
	}

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
			Buyer: "bob", ContentID: fmt.Sprintf("c-%d", i), Amount: 100,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("payment #%d status = %d", i+1, resp.StatusCode)
		}
	}

	resp := postJSON(t, srv.URL+"/api/v1/payments", domain.PaymentRequest{
		Buyer: "bob", ContentID: "c-2", Amount: 100,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate limited status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header on 429")
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}
