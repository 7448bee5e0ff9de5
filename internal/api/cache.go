package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

const (
	// generationKey counts a tenant's mutations. Cached reads are keyed by
	// it, so a bump makes every older entry unreachable.
	generationKey = "resp:generation"

	// generationWindow must outlive every cached entry.
	generationWindow = 24 * time.Hour

	// CacheHeader reports HIT or MISS on cacheable reads.
	CacheHeader = "X-Cache"
)

// ResponseCache caches successful JSON GET responses per tenant for ttl.
// Any successful mutating request bumps the tenant's generation. A nil
// cache disables the middleware.
func ResponseCache(cache domain.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cache == nil || ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantID := GetTenantID(ctx)

			if r.Method != http.MethodGet {
				rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
				next.ServeHTTP(rw, r)
				if rw.statusCode < http.StatusBadRequest {
					if _, err := cache.IncrementCounter(ctx, tenantID, generationKey, generationWindow); err != nil {
						slog.Warn("failed to invalidate response cache",
							"tenant_id", tenantID,
							"error", err,
						)
					}
				}
				return
			}

			gen, err := cache.GetCounter(ctx, tenantID, generationKey)
			if err != nil {
				slog.Warn("response cache unavailable", "tenant_id", tenantID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			key := responseKey(gen, r)

			if body, err := cache.Get(ctx, tenantID, key); err == nil && body != nil {
				metrics.CacheLookups.WithLabelValues("response", "hit").Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(CacheHeader, "HIT")
				w.WriteHeader(http.StatusOK)
				w.Write(body)
				return
			}
			metrics.CacheLookups.WithLabelValues("response", "miss").Inc()

			w.Header().Set(CacheHeader, "MISS")
			rec := &recordingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode != http.StatusOK ||
				!strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
				return
			}
			if err := cache.Set(ctx, tenantID, key, rec.body.Bytes(), ttl); err != nil {
				slog.Warn("failed to cache response",
					"tenant_id", tenantID,
					"path", r.URL.Path,
					"error", err,
				)
			}
		})
	}
}

// responseKey hashes the request URI under the tenant's generation.
func responseKey(gen int64, r *http.Request) string {
	return "resp:" + strconv.FormatInt(gen, 10) + ":" +
		strconv.FormatUint(xxhash.Sum64String(r.URL.RequestURI()), 16)
}

// recordingWriter tees the response body for caching.
type recordingWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
