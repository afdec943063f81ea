package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapus/internal/domain/idempotency"
	"metapus/internal/infrastructure/idempotency/memstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(handlerCalls *int) (*gin.Engine, *idempotency.Interceptor) {
	cfg := idempotency.DefaultConfig()
	cfg.TTL = time.Minute
	cfg.LockTTL = time.Second

	interceptor := idempotency.NewInterceptor(cfg, memstore.NewStore(), memstore.NewLock(), idempotency.NewHotCache(3*time.Second), nil)

	r := gin.New()
	r.Use(Idempotency(interceptor, cfg.HeaderName, nil))
	r.Use(ErrorHandler())
	r.POST("/orders", func(c *gin.Context) {
		*handlerCalls++
		c.JSON(http.StatusCreated, gin.H{"id": "order-1"})
	})
	return r, interceptor
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_MissingKeyRejectedStrict(t *testing.T) {
	var calls int
	r, _ := newTestRouter(&calls)

	rec := doRequest(r, http.MethodPost, "/orders", `{}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_FirstRequestRunsHandlerAndStores(t *testing.T) {
	var calls int
	r, _ := newTestRouter(&calls)

	rec := doRequest(r, http.MethodPost, "/orders", `{}`, map[string]string{"X-Idempotency-Key": "req-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"id":"order-1"}`, rec.Body.String())
}

func TestIdempotency_ReplayedRequestSkipsHandler(t *testing.T) {
	var calls int
	r, _ := newTestRouter(&calls)

	first := doRequest(r, http.MethodPost, "/orders", `{}`, map[string]string{"X-Idempotency-Key": "req-1"})
	require.Equal(t, http.StatusCreated, first.Code)

	second := doRequest(r, http.MethodPost, "/orders", `{}`, map[string]string{"X-Idempotency-Key": "req-1"})

	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Response"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestIdempotency_GETRequestsBypassInterceptorEntirely(t *testing.T) {
	cfg := idempotency.DefaultConfig()
	interceptor := idempotency.NewInterceptor(cfg, memstore.NewStore(), memstore.NewLock(), nil, nil)

	r := gin.New()
	r.Use(Idempotency(interceptor, cfg.HeaderName, nil))
	r.Use(ErrorHandler())
	r.GET("/orders/1", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": "1"})
	})

	rec := doRequest(r, http.MethodGet, "/orders/1", ``, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotency_BodyTooLargeRejectedDirectlyNotViaErrorHandler(t *testing.T) {
	var calls int
	r, _ := newTestRouter(&calls)

	oversized := bytes.Repeat([]byte("a"), maxIdempotencyBodyBytes+1)
	rec := doRequest(r, http.MethodPost, "/orders", string(oversized), map[string]string{"X-Idempotency-Key": "req-big"})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_HandlerErrorIsNotStoredForReplay(t *testing.T) {
	cfg := idempotency.DefaultConfig()
	cfg.TTL = time.Minute
	interceptor := idempotency.NewInterceptor(cfg, memstore.NewStore(), memstore.NewLock(), nil, nil)

	var calls int
	r := gin.New()
	r.Use(Idempotency(interceptor, cfg.HeaderName, nil))
	r.Use(ErrorHandler())
	r.POST("/orders", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "message": "already posted"})
	})

	first := doRequest(r, http.MethodPost, "/orders", `{}`, map[string]string{"X-Idempotency-Key": "req-conflict"})
	assert.Equal(t, http.StatusConflict, first.Code)

	// A 4xx downstream response is not stored (Interceptor.After only stores
	// 2xx/3xx), so a retry re-enters the handler rather than replaying.
	second := doRequest(r, http.MethodPost, "/orders", `{}`, map[string]string{"X-Idempotency-Key": "req-conflict"})
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotency_BodyRestoredForDownstreamHandler(t *testing.T) {
	cfg := idempotency.DefaultConfig()
	interceptor := idempotency.NewInterceptor(cfg, memstore.NewStore(), memstore.NewLock(), nil, nil)

	var seenBody string
	r := gin.New()
	r.Use(Idempotency(interceptor, cfg.HeaderName, idempotency.NewSensitiveFilter()))
	r.Use(ErrorHandler())
	r.POST("/orders", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		seenBody = string(raw)
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	doRequest(r, http.MethodPost, "/orders", `{"note":"hello"}`, map[string]string{"X-Idempotency-Key": "req-body"})

	assert.JSONEq(t, `{"note":"hello"}`, seenBody)
}

func TestIdempotency_SensitiveFilterMasksBodyWithoutAlteringDownstreamBody(t *testing.T) {
	cfg := idempotency.DefaultConfig()
	interceptor := idempotency.NewInterceptor(cfg, memstore.NewStore(), memstore.NewLock(), nil, nil)
	filter := idempotency.NewSensitiveFilter()

	var seenBody string
	r := gin.New()
	r.Use(Idempotency(interceptor, cfg.HeaderName, filter))
	r.Use(ErrorHandler())
	r.POST("/orders", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		seenBody = string(raw)
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	rec := doRequest(r, http.MethodPost, "/orders", `{"password":"hunter2","note":"hello"}`, map[string]string{"X-Idempotency-Key": "req-sensitive"})

	// logMaskedBody only feeds a copy of the body into the debug log; the
	// downstream handler must still see the original, unmasked payload.
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"password":"hunter2","note":"hello"}`, seenBody)

	masked := filter.Mask(map[string]any{"password": "hunter2", "note": "hello"})
	assert.NotEqual(t, "hunter2", masked.(map[string]any)["password"])
}
