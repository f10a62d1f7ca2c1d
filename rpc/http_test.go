package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"interra/core/events"
	"interra/core/state"
	"interra/crypto"
	"interra/native/limitorder"
	"interra/storage"
)

const (
	testToken  = "rpc-test-token"
	testExpiry = int64(1_700_003_600)
)

func newTestServer(t *testing.T) (*httptest.Server, *limitorder.Engine, *events.Broker) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	broker := events.NewBroker()
	engine := limitorder.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(broker)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })

	server := NewServer(engine, broker, WithAuthToken(testToken))
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, engine, broker
}

func bech(fill byte) string {
	b := bytes.Repeat([]byte{fill}, 20)
	return crypto.NewAddress(crypto.ITRPrefix, b).String()
}

func addr20(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, 20))
	return out
}

func call(t *testing.T, url, token, method string, params interface{}) *RPCResponse {
	t.Helper()
	var rawParams []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		rawParams = []json.RawMessage{encoded}
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("%s: decode response: %v", method, err)
	}
	return decoded
}

func mustCall(t *testing.T, url, method string, params interface{}) json.RawMessage {
	t.Helper()
	resp := call(t, url, testToken, method, params)
	if resp.Error != nil {
		t.Fatalf("%s: unexpected error %+v", method, resp.Error)
	}
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("%s: re-marshal result: %v", method, err)
	}
	return encoded
}

func TestOrderLifecycleOverRPC(t *testing.T) {
	ts, _, _ := newTestServer(t)
	owner := bech(0x01)
	treasury := bech(0x02)
	sender := bech(0x10)
	target := bech(0x20)
	opaque := "0x" + strings.Repeat("11", 32)

	mustCall(t, ts.URL, "lo_initialize", initializeParams{Caller: owner, FeeBps: 50, Treasury: treasury})
	mustCall(t, ts.URL, "lo_mint", mintParams{Caller: owner, To: sender, Token: "NATIVE", Amount: "20000000"})

	var opened openOrderResult
	raw := mustCall(t, ts.URL, "lo_openOrder", openOrderParams{
		Sender:      sender,
		FromToken:   "NATIVE",
		FromChainID: 10002,
		AmountIn:    "10000000",
		ToChainID:   1,
		ToToken:     opaque,
		Recipient:   opaque,
		AmountOut:   opaque,
		Expiry:      testExpiry,
	})
	if err := json.Unmarshal(raw, &opened); err != nil {
		t.Fatalf("decode open result: %v", err)
	}
	if opened.ID == "" {
		t.Fatalf("open returned empty order id")
	}

	var order orderJSON
	raw = mustCall(t, ts.URL, "lo_getOrder", orderIDParams{ID: opened.ID})
	if err := json.Unmarshal(raw, &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Sender != sender || order.AmountIn != "10000000" || order.Expiry != testExpiry {
		t.Fatalf("unexpected order: %+v", order)
	}

	mustCall(t, ts.URL, "lo_executeOrder", executeOrderParams{
		Caller:         owner,
		ID:             opened.ID,
		AmountIn:       "10000000",
		Target:         target,
		RefundReceiver: sender,
	})

	var balance balanceResult
	raw = mustCall(t, ts.URL, "lo_balance", balanceParams{Address: target, Token: "NATIVE"})
	if err := json.Unmarshal(raw, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != "9950000" {
		t.Fatalf("target balance = %s, want 9950000 after 50 bps fee", balance.Balance)
	}
	raw = mustCall(t, ts.URL, "lo_balance", balanceParams{Address: treasury, Token: "NATIVE"})
	if err := json.Unmarshal(raw, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != "50000" {
		t.Fatalf("treasury balance = %s, want 50000", balance.Balance)
	}

	resp := call(t, ts.URL, testToken, "lo_getOrder", orderIDParams{ID: opened.ID})
	if resp.Error == nil || resp.Error.Code != codeOrderNotFound {
		t.Fatalf("expected not_found after execute, got %+v", resp.Error)
	}
}

func TestTokenOrderLifecycleOverRPC(t *testing.T) {
	ts, _, _ := newTestServer(t)
	owner := bech(0x01)
	sender := bech(0x10)
	opaque := "0x" + strings.Repeat("22", 32)

	mustCall(t, ts.URL, "lo_initialize", initializeParams{Caller: owner, FeeBps: 0, Treasury: bech(0x02)})
	mustCall(t, ts.URL, "lo_registerToken", registerTokenParams{Caller: owner, Symbol: "USDX", Name: "USD Example", Decimals: 6})
	mustCall(t, ts.URL, "lo_mint", mintParams{Caller: owner, To: sender, Token: "USDX", Amount: "5000000"})
	mustCall(t, ts.URL, "lo_mint", mintParams{Caller: owner, To: sender, Token: "NATIVE", Amount: "2000000"})

	var opened openOrderResult
	raw := mustCall(t, ts.URL, "lo_openOrder", openOrderParams{
		Sender:      sender,
		FromToken:   "usdx",
		FromChainID: 10002,
		AmountIn:    "5000000",
		ToChainID:   1,
		ToToken:     opaque,
		Recipient:   opaque,
		AmountOut:   opaque,
		Expiry:      testExpiry,
	})
	if err := json.Unmarshal(raw, &opened); err != nil {
		t.Fatalf("decode open result: %v", err)
	}

	mustCall(t, ts.URL, "lo_cancelOrder", cancelOrderParams{Caller: sender, ID: opened.ID, RefundReceiver: sender})

	var balance balanceResult
	raw = mustCall(t, ts.URL, "lo_balance", balanceParams{Address: sender, Token: "USDX"})
	if err := json.Unmarshal(raw, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != "5000000" {
		t.Fatalf("sender token balance = %s, want full refund", balance.Balance)
	}
}

func TestAuthRequiredForMutatingMethods(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := call(t, ts.URL, "", "lo_initialize", initializeParams{Caller: bech(0x01), FeeBps: 0, Treasury: bech(0x02)})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}
	resp = call(t, ts.URL, "wrong-token", "lo_mint", mintParams{Caller: bech(0x01), To: bech(0x02), Token: "NATIVE", Amount: "1"})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized for bad token, got %+v", resp.Error)
	}

	// Read methods need no credentials.
	resp = call(t, ts.URL, "", "lo_getConfig", nil)
	if resp.Error == nil || resp.Error.Code != codeOrderNotFound {
		t.Fatalf("expected not_found for missing config, got %+v", resp.Error)
	}
}

func TestUnknownMethodAndBadParams(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := call(t, ts.URL, testToken, "lo_doesNotExist", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}

	resp = call(t, ts.URL, testToken, "lo_getOrder", orderIDParams{ID: "0x1234"})
	if resp.Error == nil || resp.Error.Code != codeOrderInvalidParams {
		t.Fatalf("expected invalid params for short id, got %+v", resp.Error)
	}

	resp = call(t, ts.URL, testToken, "lo_getOrder", nil)
	if resp.Error == nil || resp.Error.Code != codeOrderInvalidParams {
		t.Fatalf("expected invalid params for missing object, got %+v", resp.Error)
	}
}

func TestRateLimiting(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	engine := limitorder.NewEngine()
	engine.SetState(manager)
	server := NewServer(engine, events.NewBroker(), WithRateLimit(1, 1))
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	first := call(t, ts.URL, "", "lo_getConfig", nil)
	if first.Error != nil && first.Error.Code == codeRateLimited {
		t.Fatalf("first request must pass the limiter")
	}
	second := call(t, ts.URL, "", "lo_getConfig", nil)
	if second.Error == nil || second.Error.Code != codeRateLimited {
		t.Fatalf("expected rate limited, got %+v", second.Error)
	}
}

func TestEventStreamWebsocket(t *testing.T) {
	ts, engine, _ := newTestServer(t)
	owner := addr20(0x01)
	if _, err := engine.Initialize(owner, 25, addr20(0x02)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?cursor=0"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read backlog event: %v", err)
	}
	var payload eventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Sequence != 0 || payload.Type != "limitorder.initialized" {
		t.Fatalf("unexpected first event: %+v", payload)
	}
	if payload.Attributes["platformFeeBps"] != "25" {
		t.Fatalf("unexpected attributes: %v", payload.Attributes)
	}

	// A live transition arrives after the backlog.
	if _, err := engine.UpdateConfig(owner, owner, 30, addr20(0x02), false); err != nil {
		t.Fatalf("update config: %v", err)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Sequence != 1 || payload.Type != "limitorder.config_updated" {
		t.Fatalf("unexpected live event: %+v", payload)
	}
}

func TestBodyLimitsAndVersionChecks(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(""))
	if err != nil {
		t.Fatalf("post empty body: %v", err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request for empty body, got %+v", decoded.Error)
	}

	body := `{"jsonrpc":"1.0","method":"lo_getConfig","id":1}`
	resp, err = http.Post(ts.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	decoded = &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request for wrong version, got %+v", decoded.Error)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	manager := state.NewManager(storage.NewMemDB())
	broker := events.NewBroker()
	engine := limitorder.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(broker)
	server := NewServer(engine, broker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx, "127.0.0.1:0", time.Second)
	}()

	// Let the listener come up, then ask for shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancellation, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
