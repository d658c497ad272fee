package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	redisInfra "github.com/hdevtech/ticket/internal/infrastructure/redis"
)

type IdempotencyStore interface {
	Acquire(ctx context.Context, key string) (bool, *redisInfra.StoredResponse, error)
	Complete(ctx context.Context, key string, resp redisInfra.StoredResponse) error
	Release(ctx context.Context, key string) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key
// and rejects a repeat that arrives while the first request still runs.
// Server errors are not stored so the client may retry.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to state-changing methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			acquired, stored, err := store.Acquire(ctx, key)
			if err != nil {
				slog.Warn("idempotency store unavailable, passing through", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if stored != nil {
				w.Header().Set("X-Idempotency-Hit", "true")
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}
			if !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"concurrent request"}`))
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			storeCtx := context.WithoutCancel(ctx)
			if rec.status >= 500 {
				if err := store.Release(storeCtx, key); err != nil {
					slog.Warn("failed to release idempotency key", "error", err)
				}
				return
			}
			resp := redisInfra.StoredResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := store.Complete(storeCtx, key, resp); err != nil {
				slog.Warn("failed to store idempotent response", "error", err)
			}
		})
	}
}

// recorder copies the response while it is written.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
