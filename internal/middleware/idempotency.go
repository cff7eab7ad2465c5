package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cassiomorais/payrecon/internal/repository/postgres"
)

const maxIdempotencyBodySize = 1 << 20

// IdempotencyStore keeps replayable responses. Get returns nil, nil when no
// live entry exists.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

type idempotency struct {
	store IdempotencyStore
	ttl   time.Duration
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated merchant, and a key reused with a
// different body is refused. Store failures degrade to no idempotency.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	m := &idempotency{store: store, ttl: ttl}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := m.scopedKey(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
			if err != nil {
				writeFailure(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])

			if m.replay(r.Context(), w, key, hash) {
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.remember(r.Context(), key, hash, rec)
		})
	}
}

// scopedKey is "<merchant>:<Idempotency-Key>", or "" without a header.
func (m *idempotency) scopedKey(r *http.Request) string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return ""
	}
	if userID, ok := GetUserID(r.Context()); ok {
		return strconv.FormatInt(userID, 10) + ":" + key
	}
	return key
}

// replay answers from the store and reports whether it did.
func (m *idempotency) replay(ctx context.Context, w http.ResponseWriter, key, hash string) bool {
	entry, err := m.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("idempotency lookup failed")
		return false
	}
	if entry == nil {
		return false
	}
	if entry.RequestHash != "" && entry.RequestHash != hash {
		writeFailure(w, http.StatusUnprocessableEntity, "idempotency_key_reused",
			"Idempotency-Key was already used with a different request")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(entry.ResponseStatus)
	_, _ = w.Write([]byte(entry.ResponseBody))
	return true
}

// remember stores final answers. A 5xx may not reflect the outcome at the
// gateway, so the client is allowed to retry it.
func (m *idempotency) remember(ctx context.Context, key, hash string, rec *responseRecorder) {
	if rec.statusCode < 200 || rec.statusCode >= 500 || rec.truncated {
		return
	}
	now := time.Now()
	err := m.store.Set(ctx, &postgres.IdempotencyEntry{
		Key:            key,
		RequestHash:    hash,
		ResponseBody:   rec.body.String(),
		ResponseStatus: rec.statusCode,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	})
	if err != nil {
		log.Warn().Err(err).Msg("idempotency store failed")
	}
}

// responseRecorder tees the response so it can be stored.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	truncated  bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.truncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.truncated = true
			r.body.Reset()
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
