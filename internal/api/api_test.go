package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
	"github.com/hdevtech/ticket/internal/infrastructure/boltdb"
	"github.com/hdevtech/ticket/internal/session"
	"github.com/hdevtech/ticket/internal/settlement"
	"github.com/hdevtech/ticket/internal/usecase"

	"github.com/gorilla/websocket"
)

var testSecret = []byte("test-secret")

// fakeGateway accepts every charge and answers status reads from script.
type fakeGateway struct {
	mu     sync.Mutex
	calls  map[string]int
	script func(txRef string, call int) (payment.Snapshot, error)
}

func (g *fakeGateway) Initiate(ctx context.Context, ch payment.Charge) (payment.ChargeResult, error) {
	return payment.ChargeResult{Status: "success", Message: "queued"}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, txRef string) (payment.Snapshot, error) {
	g.mu.Lock()
	g.calls[txRef]++
	call := g.calls[txRef]
	g.mu.Unlock()
	return g.script(txRef, call)
}

func (g *fakeGateway) Calls(txRef string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[txRef]
}

type nopNotifier struct{}

func (nopNotifier) Send(ctx context.Context, phone, msg string) error { return nil }

type testEnv struct {
	server  *httptest.Server
	ledger  *boltdb.Ledger
	gateway *fakeGateway
	runner  *settlement.Runner
	route   *ticket.Route
	token   string
}

func newTestEnv(t *testing.T, script func(txRef string, call int) (payment.Snapshot, error)) *testEnv {
	t.Helper()

	ledger, err := boltdb.Open(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	route := &ticket.Route{From: "Kigali", Destination: "Huye", Price: 500, Seats: 30, LeaveDate: time.Now().Add(24 * time.Hour)}
	if err := ledger.PutRoute(context.Background(), route); err != nil {
		t.Fatalf("put route: %v", err)
	}

	gw := &fakeGateway{calls: map[string]int{}, script: script}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wf := settlement.NewWorkflow(gw, ledger, nopNotifier{}, settlement.Policy{Interval: 10 * time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	runner := settlement.NewRunner(ctx, wf, 4, logger)

	h := NewHandlers(
		usecase.NewPurchaseTicket(usecase.PurchaseDeps{Tickets: ledger, Gateway: gw}, "http://tickets.test"),
		usecase.NewGetReceipt(ledger, nil, 0, "http://tickets.test"),
		usecase.NewGetSettlement(ledger, nil, nil, nil),
		wf, runner, 5*time.Second,
	)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{JWTSecret: testSecret, Issuer: "ticket-service"}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		runner.Wait()
		ledger.Close()
	})

	token, err := session.Issue(testSecret, "ticket-service", session.Session{ClientID: 2}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &testEnv{server: srv, ledger: ledger, gateway: gw, runner: runner, route: route, token: token}
}

func (e *testEnv) seedTicket(t *testing.T, txRef string) {
	t.Helper()
	tk := &ticket.Ticket{ClientID: 2, RouteID: e.route.ID, Amount: 500, PhoneNumber: "0788123456", TxRef: txRef}
	if err := e.ledger.Create(context.Background(), tk); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func succeedAt(n int) func(string, int) (payment.Snapshot, error) {
	return func(txRef string, call int) (payment.Snapshot, error) {
		if call < n {
			return payment.Snapshot{TxRef: txRef, Status: payment.StatusPending}, nil
		}
		return payment.Snapshot{TxRef: txRef, Status: payment.StatusSuccess, TxID: "TXN1", Amount: 500}, nil
	}
}

func alwaysPending(txRef string, call int) (payment.Snapshot, error) {
	return payment.Snapshot{TxRef: txRef, Status: payment.StatusPending}, nil
}

func TestPurchaseSettleReceipt(t *testing.T) {
	env := newTestEnv(t, succeedAt(2))
	token, err := session.Issue(testSecret, "ticket-service", session.Session{ClientID: 2}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/tickets", token, map[string]any{"route_id": env.route.ID, "phone_number": "0788123456"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("purchase status = %d", resp.StatusCode)
	}
	var purchased usecase.PurchaseResult
	decode(t, resp, &purchased)
	txRef := purchased.Ticket.TxRef
	if purchased.Redirect != "/waiting/"+txRef {
		t.Errorf("redirect = %q", purchased.Redirect)
	}

	resp = env.do(t, http.MethodPost, "/settlements/"+txRef+"/sync?timeout=2s", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	var out settlement.Outcome
	decode(t, resp, &out)
	if out.Status != payment.StatusSuccess || out.TxID != "TXN1" || !out.Applied || out.Redirect != ticket.ReceiptPath(txRef) {
		t.Errorf("outcome = %+v", out)
	}

	resp = env.do(t, http.MethodGet, "/receipt/"+txRef+"/view", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("receipt status = %d", resp.StatusCode)
	}
	var receipt usecase.Receipt
	decode(t, resp, &receipt)
	if receipt.Ticket.PaymentStatus != payment.StatusSuccess || !strings.Contains(receipt.QRText, "Payment Status: success") {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestPurchaseRequiresAuth(t *testing.T) {
	env := newTestEnv(t, alwaysPending)
	resp := env.do(t, http.MethodPost, "/tickets", "", map[string]any{"route_id": env.route.ID, "phone_number": "0788123456"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSettlementControlRequiresAuth(t *testing.T) {
	env := newTestEnv(t, alwaysPending)
	env.seedTicket(t, "abc123")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/settlements/abc123"},
		{http.MethodDelete, "/settlements/abc123"},
		{http.MethodPost, "/settlements/abc123/sync?timeout=50ms"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, "", nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
		})
	}

	if env.runner.Running("abc123") {
		t.Error("unauthenticated request started a settlement")
	}
	if calls := env.gateway.Calls("abc123"); calls != 0 {
		t.Errorf("gateway polled %d times without a session", calls)
	}

	if resp := env.do(t, http.MethodGet, "/settlements/abc123", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("settlement view = %d, want 200", resp.StatusCode)
	}
}

func TestSettleSyncErrors(t *testing.T) {
	env := newTestEnv(t, func(txRef string, call int) (payment.Snapshot, error) {
		switch txRef {
		case "missing":
			return payment.Snapshot{}, payment.ErrNotFound
		case "down":
			return payment.Snapshot{}, fmt.Errorf("%w: connection refused", payment.ErrGatewayUnreachable)
		case "orphan":
			return payment.Snapshot{TxRef: txRef, Status: payment.StatusSuccess, TxID: "TXN9"}, nil
		}
		return alwaysPending(txRef, call)
	})
	env.seedTicket(t, "slow")

	tests := []struct {
		path string
		want int
	}{
		{"/settlements/missing/sync", http.StatusNotFound},
		{"/settlements/orphan/sync", http.StatusNotFound},
		{"/settlements/slow/sync?timeout=50ms", http.StatusGatewayTimeout},
		{"/settlements/down/sync?timeout=50ms", http.StatusGatewayTimeout},
		{"/settlements/slow/sync?timeout=soon", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, env.token, nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body errorResponse
			decode(t, resp, &body)
			if body.Error == "" {
				t.Error("expected an error message")
			}
		})
	}

	got, err := env.ledger.GetByTxRef(context.Background(), "slow")
	if err != nil || got.PaymentStatus != payment.StatusPending {
		t.Errorf("timed out settlement changed the ledger: %+v, %v", got, err)
	}
}

func TestBackgroundSettlementStartAndCancel(t *testing.T) {
	env := newTestEnv(t, alwaysPending)
	env.seedTicket(t, "abc123")

	if resp := env.do(t, http.MethodDelete, "/settlements/abc123", env.token, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel without settlement = %d, want 404", resp.StatusCode)
	}

	resp := env.do(t, http.MethodPost, "/settlements/abc123", env.token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	var started map[string]any
	decode(t, resp, &started)
	if started["started"] != true {
		t.Errorf("start body = %v", started)
	}

	resp = env.do(t, http.MethodGet, "/settlements/abc123", "", nil)
	var view map[string]any
	decode(t, resp, &view)
	if view["running"] != true || view["ticket"] == nil {
		t.Errorf("view = %v", view)
	}

	if resp := env.do(t, http.MethodDelete, "/settlements/abc123", env.token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel = %d, want 204", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.runner.Running("abc123") {
		if time.Now().After(deadline) {
			t.Fatal("settlement still running after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchSettlement(t *testing.T) {
	env := newTestEnv(t, succeedAt(3))
	env.seedTicket(t, "abc123")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/settlements/abc123/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var progress []settlement.Progress
	for {
		var raw map[string]json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read: %v", err)
		}
		if _, ok := raw["done"]; ok {
			var final wsFinal
			b, _ := json.Marshal(raw)
			json.Unmarshal(b, &final)
			if final.Outcome == nil || final.Outcome.Status != payment.StatusSuccess || final.Error != "" {
				t.Fatalf("final = %+v", final)
			}
			break
		}
		var p settlement.Progress
		b, _ := json.Marshal(raw)
		json.Unmarshal(b, &p)
		progress = append(progress, p)
	}

	if len(progress) != 3 {
		t.Fatalf("progress messages = %d, want 3", len(progress))
	}
	if progress[0].Ticket == nil || progress[0].Route == nil || progress[0].NextPollMS == 0 {
		t.Errorf("first progress = %+v", progress[0])
	}
	if progress[2].Outcome == nil {
		t.Errorf("last progress has no outcome: %+v", progress[2])
	}
}

func TestWatchSettlementCloseStopsPolling(t *testing.T) {
	env := newTestEnv(t, alwaysPending)
	env.seedTicket(t, "abc123")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/settlements/abc123/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var p settlement.Progress
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatalf("read: %v", err)
	}
	conn.Close()

	time.Sleep(100 * time.Millisecond)
	env.gateway.mu.Lock()
	before := env.gateway.calls["abc123"]
	env.gateway.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	env.gateway.mu.Lock()
	after := env.gateway.calls["abc123"]
	env.gateway.mu.Unlock()

	if after != before {
		t.Fatalf("gateway polled %d more times after the socket closed", after-before)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", settlement.ErrTicketNotFound), http.StatusNotFound},
		{settlement.ErrNotFound, http.StatusNotFound},
		{ticket.ErrRouteNotFound, http.StatusNotFound},
		{settlement.ErrGatewayUnreachable, http.StatusBadGateway},
		{fmt.Errorf("%w: %w", settlement.ErrTimedOut, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{settlement.ErrInvalidTxRef, http.StatusBadRequest},
		{usecase.ErrInvalidPurchase, http.StatusBadRequest},
		{usecase.ErrChargeRejected, http.StatusPaymentRequired},
		{session.ErrNoSession, http.StatusUnauthorized},
		{ticket.ErrDuplicateTxRef, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
