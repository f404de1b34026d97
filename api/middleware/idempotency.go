package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/packfinderz-pools/api/responses"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-pools/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	// ReplayWindow covers joins, invites and run edits.
	ReplayWindow = 24 * time.Hour
	// TerminalReplayWindow covers transitions that move money or end an
	// aggregate's lifecycle.
	TerminalReplayWindow = 7 * 24 * time.Hour

	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL = time.Minute
)

// storedResponse is what a key maps to in redis. InFlight is set while the
// first request is still being handled.
type storedResponse struct {
	RequestHash string `json:"request_hash"`
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotent makes a mutating route safe to retry. The first request with a
// given Idempotency-Key runs the handler; later ones with the same body get
// the stored response back for ttl. A nil store disables the check.
func Idempotent(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(replayScope(r), clientKey)
			hash := digest(body)

			raw, err := store.Get(ctx, key)
			if err != nil && !errors.Is(err, redis.Nil) {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key"))
				return
			}
			if raw != "" {
				var prior storedResponse
				if err := json.Unmarshal([]byte(raw), &prior); err != nil {
					fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				replay(w, fail, prior, hash)
				return
			}

			marker, _ := json.Marshal(storedResponse{RequestHash: hash, InFlight: true})
			claimed, err := store.SetNX(ctx, key, string(marker), inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				fail(pkgerrors.New(pkgerrors.CodeAggregateBusy, "a request with this Idempotency-Key is in progress"))
				return
			}

			capture := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if err := store.Del(ctx, key); err != nil {
				logg.Error(ctx, "idempotency.release_failed", err)
				return
			}
			if !capture.replayable() {
				return
			}
			record, _ := json.Marshal(storedResponse{
				RequestHash: hash,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			})
			if _, err := store.SetNX(ctx, key, string(record), ttl); err != nil {
				logg.Error(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, fail func(error), prior storedResponse, hash string) {
	switch {
	case prior.RequestHash != hash:
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key reused with a different request body"))
	case prior.InFlight:
		fail(pkgerrors.New(pkgerrors.CodeAggregateBusy, "a request with this Idempotency-Key is in progress"))
	default:
		body, err := base64.StdEncoding.DecodeString(prior.Body)
		if err != nil {
			fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode stored response"))
			return
		}
		if prior.ContentType != "" {
			w.Header().Set("Content-Type", prior.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(prior.Status)
		_, _ = w.Write(body)
	}
}

// replayScope keeps keys from colliding across callers and routes.
func replayScope(r *http.Request) string {
	subject := "anonymous"
	if actor, ok := ActorFromContext(r.Context()); ok {
		subject = actor.SubjectID.String()
	}
	return subject + "|" + r.Method + "|" + r.URL.Path
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *capturingWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// replayable keeps 5xx and Retry-After responses out of the store so the
// client's retry reaches the handler again.
func (c *capturingWriter) replayable() bool {
	return c.statusCode() < http.StatusInternalServerError && c.Header().Get("Retry-After") == ""
}
