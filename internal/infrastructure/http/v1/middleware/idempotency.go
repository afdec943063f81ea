package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"metapus/internal/core/apperror"
	"metapus/internal/domain/idempotency"
	"metapus/pkg/logger"
)

const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

// captureWriter wraps gin.ResponseWriter to buffer the body and status so
// the Interceptor can capture them after the downstream handler runs,
// without the handler ever knowing its response is being replay-cached.
type captureWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	wroteHdr   bool
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func (w *captureWriter) WriteHeader(statusCode int) {
	if !w.wroteHdr {
		w.statusCode = statusCode
		w.wroteHdr = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// stockRequestBody is the JSON shape the Oversell Guard reads from the
// request body when enabled (§9 resolved open question: read from whichever
// body format the response format dictates — JSON, for this gin-based
// service).
type stockRequestBody struct {
	ProductID string `json:"product_id"`
	Quantity  string `json:"quantity"`
}

// Idempotency wires an *idempotency.Interceptor into gin: it runs
// EXTRACT_KEY through STORAGE_GET / the Oversell Guard before the
// downstream handler, then CAPTURE / STORE / RELEASE_LOCK after.
//
// filter masks sensitive fields (passwords, tokens, card numbers, ...) out
// of the request body before it ever reaches a debug log line. It may be
// nil, in which case no request body is logged at all.
func Idempotency(interceptor *idempotency.Interceptor, headerName string, filter *idempotency.SensitiveFilter) gin.HandlerFunc {
	if headerName == "" {
		headerName = "X-Idempotency-Key"
	}
	return func(c *gin.Context) {
		if !isMutatingMethod(c.Request.Method) {
			c.Next()
			return
		}

		body, productID, quantity := bufferAndInspectBody(c)
		if c.IsAborted() {
			return
		}

		logMaskedBody(c.Request.Context(), filter, body)

		info := idempotency.RequestInfo{
			Method:      c.Request.Method,
			HeaderValue: c.GetHeader(headerName),
			ProductID:   productID,
			Quantity:    quantity,
		}
		if info.HeaderValue == "" {
			info.BodyValue = bodyIdempotencyKey(body)
		}

		replay, section, err := interceptor.Before(c.Request.Context(), info)
		if err != nil {
			WriteError(c, err)
			c.Abort()
			return
		}

		if replay != nil {
			key := idempotency.Normalize(idempotency.ExtractKey(info))
			restore(c, key, *replay)
			c.Abort()
			return
		}

		if section == nil {
			c.Next()
			return
		}

		c.Set("idempotency_section", section)

		writer := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}, statusCode: http.StatusOK}
		c.Writer = writer

		c.Next()

		captured := idempotency.CapturedResponse{
			Status:  writer.statusCode,
			Body:    writer.body.Bytes(),
			Headers: captureHeaders(writer.Header()),
		}

		// Backend write failures in the post-execution phase are logged
		// here, never surfaced to the client — it already has its response
		// (§7 Error Handling).
		if err := interceptor.After(c.Request.Context(), section, captured); err != nil {
			logger.Warn(c.Request.Context(), "idempotency: storing response failed", "error", err)
		}
	}
}

func isMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// bufferAndInspectBody reads and restores the request body (so the
// downstream handler can still read it), and opportunistically extracts the
// oversell fields for JSON bodies.
func bufferAndInspectBody(c *gin.Context) (raw []byte, productID, quantity string) {
	if c.Request.Body == nil {
		return nil, "", ""
	}
	limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
	raw, _ = io.ReadAll(limited)
	if len(raw) > maxIdempotencyBodyBytes {
		appErr := apperror.NewValidation("request body too large for idempotency")
		appErr.HTTPStatus = http.StatusRequestEntityTooLarge
		WriteError(c, appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
		c.Abort()
		return nil, "", ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	if len(raw) == 0 {
		return raw, "", ""
	}
	var body stockRequestBody
	if json.Unmarshal(raw, &body) == nil {
		if _, err := decimal.NewFromString(body.Quantity); err == nil {
			productID, quantity = body.ProductID, body.Quantity
		}
	}
	return raw, productID, quantity
}

// logMaskedBody emits a debug-level trace of an idempotent request's body
// with any sensitive field (password, token, card number, ...) masked by
// filter first. Never called with the raw body directly.
func logMaskedBody(ctx context.Context, filter *idempotency.SensitiveFilter, raw []byte) {
	if filter == nil || len(raw) == 0 {
		return
	}
	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) != nil {
		return
	}
	logger.Debug(ctx, "idempotency: captured request body", "body", filter.Mask(parsed))
}

// bodyIdempotencyKey reads the POST body fallback carrier, the fixed JSON
// field "idempotency_key", e.g. {"idempotency_key": "..."}. The field name
// does not change with the configured header name.
func bodyIdempotencyKey(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var body struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.IdempotencyKey
}

func captureHeaders(h http.Header) []idempotency.Header {
	out := make([]idempotency.Header, 0, len(h))
	for name, values := range h {
		for _, value := range values {
			out = append(out, idempotency.Header{Name: name, Value: value})
		}
	}
	return out
}

// restore applies a StoredRecord verbatim onto the current response,
// stripping hop-by-hop headers and adding the replay markers (§4.7 Response
// restoration).
func restore(c *gin.Context, key string, record idempotency.StoredRecord) {
	for _, h := range record.Headers {
		if idempotency.IsHopByHop(h.Name) {
			continue
		}
		c.Writer.Header().Add(h.Name, h.Value)
	}
	c.Header("X-Idempotent-Response", "true")
	c.Header("X-Idempotency-Key", key)
	c.Header("X-Created-At", strconv.FormatInt(record.CreatedAt.Unix(), 10))

	contentType := c.Writer.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(record.Status, contentType, record.Body)
}
