package sms

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

const DefaultSenderID = "L7-IT"

type HDEVConfig struct {
	// URL is the full endpoint including the account id and key.
	URL      string
	SenderID string
	Timeout  time.Duration
}

// HDEV posts messages to the HDEV SMS API as a multipart form.
type HDEV struct {
	cfg    HDEVConfig
	http   *http.Client
	logger *slog.Logger
}

func NewHDEV(cfg HDEVConfig, httpClient *http.Client, logger *slog.Logger) *HDEV {
	if cfg.SenderID == "" {
		cfg.SenderID = DefaultSenderID
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HDEV{cfg: cfg, http: httpClient, logger: logger}
}

func (s *HDEV) Send(ctx context.Context, phoneNumber, message string) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for _, f := range [][2]string{
		{"sender_id", s.cfg.SenderID},
		{"ref", "sms"},
		{"message", message},
		{"tel", phoneNumber},
	} {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("encode sms form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("encode sms form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, &body)
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sms response: status %d: %w", res.StatusCode, err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("send sms: status %d: %s", res.StatusCode, bytes.TrimSpace(data))
	}

	s.logger.DebugContext(ctx, "sms provider response", "phone", phoneNumber, "response", string(bytes.TrimSpace(data)))
	return nil
}
