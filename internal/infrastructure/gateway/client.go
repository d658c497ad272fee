// Package gateway talks to the HDEV mobile-money payment API.
//
// Every call is a multipart form POST to {base_url}{api_id}/{api_key}; the
// "ref" field selects the operation ("pay" or "read").
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hdevtech/ticket/internal/domain/payment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_requests_total",
	Help: "Requests sent to the payment gateway by operation and result",
}, []string{"op", "result"})

const DefaultBaseURL = "https://payment.hdevtech.cloud/api_pay/api/"

type Config struct {
	BaseURL string
	APIID   string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a gateway client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Client{
		endpoint: base + cfg.APIID + "/" + cfg.APIKey,
		http:     httpClient,
	}
}

type response struct {
	Status  string          `json:"status"`
	TxID    string          `json:"tx_id"`
	TxRef   string          `json:"tx_ref"`
	Amount  json.RawMessage `json:"amount"`
	Tel     string          `json:"tel"`
	Message string          `json:"message"`
}

// Initiate submits a charge. A provider refusal is reported in the result,
// not as an error.
func (c *Client) Initiate(ctx context.Context, ch payment.Charge) (payment.ChargeResult, error) {
	resp, err := c.post(ctx, "pay", [][2]string{
		{"ref", "pay"},
		{"tel", ch.Tel},
		{"tx_ref", ch.TxRef},
		{"amount", strconv.FormatInt(ch.Amount, 10)},
		{"link", ch.Link},
	})
	if err != nil {
		return payment.ChargeResult{}, err
	}
	return payment.ChargeResult{Status: resp.Status, Message: resp.Message}, nil
}

// GetStatus reads the current state of txRef.
func (c *Client) GetStatus(ctx context.Context, txRef string) (payment.Snapshot, error) {
	resp, err := c.post(ctx, "read", [][2]string{
		{"ref", "read"},
		{"tx_ref", txRef},
	})
	if err != nil {
		return payment.Snapshot{}, err
	}

	status, err := payment.ParseStatus(strings.ToLower(strings.TrimSpace(resp.Status)))
	if err != nil {
		// the API answers an unknown reference with an error body that
		// carries no tx_ref
		if resp.TxRef == "" {
			requestsTotal.WithLabelValues("read", "not_found").Inc()
			return payment.Snapshot{}, fmt.Errorf("%w: %s", payment.ErrNotFound, txRef)
		}
		// any other state the provider reports is still in flight
		status = payment.StatusPending
	}

	amount, err := parseAmount(resp.Amount)
	if err != nil {
		return payment.Snapshot{}, fmt.Errorf("read payment %s: %w", txRef, err)
	}

	return payment.Snapshot{
		TxRef:  txRef,
		Status: status,
		TxID:   resp.TxID,
		Amount: amount,
		Tel:    resp.Tel,
	}, nil
}

func (c *Client) post(ctx context.Context, op string, fields [][2]string) (*response, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("encode %s form: %w", op, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("encode %s form: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("%w: %w", payment.ErrGatewayUnreachable, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		requestsTotal.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("%w: read body: %w", payment.ErrGatewayUnreachable, err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		requestsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, payment.ErrNotFound
	case res.StatusCode >= 500,
		res.StatusCode == http.StatusRequestTimeout,
		res.StatusCode == http.StatusTooManyRequests:
		requestsTotal.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("%w: status %d", payment.ErrGatewayUnreachable, res.StatusCode)
	case res.StatusCode >= 300:
		requestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("gateway %s: unexpected status %d: %s", op, res.StatusCode, bytes.TrimSpace(data))
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}

	requestsTotal.WithLabelValues(op, "ok").Inc()
	return &resp, nil
}

var errBadAmount = errors.New("invalid amount")

// parseAmount accepts the amount as a JSON number or string.
func parseAmount(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %q", errBadAmount, s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) || math.Round(f) >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q", errBadAmount, s)
	}
	return int64(math.Round(f)), nil
}
