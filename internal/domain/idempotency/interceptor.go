package idempotency

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"metapus/internal/core/apperror"
)

var tracer = otel.Tracer("metapus/idempotency")

// Mode selects how the Interceptor behaves when the idempotency key is
// absent from the request (§4.7).
type Mode int

const (
	// Strict rejects requests missing a key with InvalidKey (400). Stores
	// on success.
	Strict Mode = iota
	// Optional passes requests missing a key straight through, untouched.
	// Stores on success when a key is present.
	Optional
	// Lax passes requests missing a key straight through. When a key is
	// present it still checks for a replay, but never persists a new
	// record — check only.
	Lax
)

// Config configures one Interceptor instance (§6 Configuration).
type Config struct {
	Mode Mode

	// HeaderName is the HTTP header carrying the key. Defaults to
	// X-Idempotency-Key.
	HeaderName string

	// TTL is the record lifetime.
	TTL time.Duration

	// LockTTL is the lock lifetime; it must bound the longest expected
	// handler execution time.
	LockTTL time.Duration

	// MaxLockAttempts and LockRetryDelay bound the lock acquisition retry
	// budget.
	MaxLockAttempts int
	LockRetryDelay  time.Duration

	// UseFastCache enables the Hot Cache tier (E).
	UseFastCache bool
	FastCacheTTL time.Duration

	// OverSellProtection enables the Oversell Guard (F).
	OverSellProtection bool
}

// DefaultConfig returns the documented defaults for every tunable.
func DefaultConfig() Config {
	return Config{
		Mode:            Strict,
		HeaderName:      "X-Idempotency-Key",
		TTL:             24 * time.Hour,
		LockTTL:         10 * time.Second,
		MaxLockAttempts: 5,
		LockRetryDelay:  100 * time.Millisecond,
		UseFastCache:    true,
		FastCacheTTL:    3 * time.Second,
	}
}

// RequestInfo carries the pieces of the inbound request the Interceptor
// needs, extracted by the framework-specific adapter (e.g. the gin
// middleware) so this package stays framework-agnostic.
type RequestInfo struct {
	Method      string
	HeaderValue string // value of the configured header, "" if absent
	BodyValue   string // same-named POST body field, fallback carrier
	ProductID   string // only read when OverSellProtection is enabled
	Quantity    string // decimal string; only read when OverSellProtection is enabled
}

// CapturedResponse is what the framework adapter hands back after
// HANDLER_EXECUTE for the Interceptor to persist.
type CapturedResponse struct {
	Status  int
	Body    []byte
	Headers []Header
}

// CriticalSection is returned by Before when the caller must run the
// downstream handler and later call After with the captured response.
type CriticalSection struct {
	Key          string
	Token        LockToken
	overSellDone func(ctx context.Context, downstreamSucceeded bool)
}

// Interceptor is the per-request orchestrator (§4.7 / component G): extract
// -> fast-check -> lock -> storage-check -> (oversell) -> [handler runs
// externally] -> capture -> store -> unlock.
type Interceptor struct {
	cfg      Config
	storage  Storage
	lock     Lock
	hotCache *HotCache
	overSell *OverSellGuard

	now   func() time.Time
	sleep func(time.Duration)
}

// NewInterceptor builds an Interceptor from explicitly supplied backends —
// no global registry, no dynamic class-name instantiation (§9 Design
// Notes). overSell may be nil when cfg.OverSellProtection is false.
func NewInterceptor(cfg Config, storage Storage, lock Lock, hotCache *HotCache, overSell *OverSellGuard) *Interceptor {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-Idempotency-Key"
	}
	return &Interceptor{
		cfg:      cfg,
		storage:  storage,
		lock:     lock,
		hotCache: hotCache,
		overSell: overSell,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// ExtractKey resolves the request's idempotency key from the header, or —
// for POST requests when the header is absent — from the same-named body
// field.
func ExtractKey(info RequestInfo) string {
	if info.HeaderValue != "" {
		return info.HeaderValue
	}
	if info.Method == http.MethodPost && info.BodyValue != "" {
		return info.BodyValue
	}
	return ""
}

// Before runs EXTRACT_KEY through STORAGE_GET (and the optional Oversell
// Guard) and returns exactly one of:
//   - (replay, nil, nil): a stored record to restore verbatim; the caller
//     should not invoke the downstream handler.
//   - (nil, nil, nil): no key is in play (Optional/Lax pass-through); the
//     caller should invoke the downstream handler without a critical
//     section.
//   - (nil, section, nil): the caller holds the lock and must invoke the
//     downstream handler, then call After(ctx, section, captured).
//   - (nil, nil, err): the request must be rejected; err is an
//     *apperror.AppError with the mapped HTTP status already set.
func (ic *Interceptor) Before(ctx context.Context, info RequestInfo) (*StoredRecord, *CriticalSection, error) {
	ctx, span := tracer.Start(ctx, "idempotency.before")
	defer span.End()

	rawKey := ExtractKey(info)

	if rawKey == "" {
		switch ic.cfg.Mode {
		case Strict:
			return nil, nil, NewInvalidKey("missing")
		default: // Optional, Lax
			return nil, nil, nil
		}
	}

	key := Normalize(rawKey)
	if err := Validate(key); err != nil {
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("idempotency.key", key))

	now := ic.now()

	if ic.cfg.UseFastCache && ic.hotCache != nil && ic.hotCache.Seen(key, now) {
		if record, err := ic.storage.Get(ctx, key); err != nil {
			return nil, nil, NewBackendError("storage.get", err)
		} else if record != nil {
			return record, nil, nil
		}
		// Positive-only cache said "maybe", storage disagrees (expired or
		// evicted between calls) — fall through to the normal path.
	}

	token, acquired, err := ic.acquireWithRetry(ctx, key)
	if err != nil {
		return nil, nil, NewBackendError("lock.acquire", err)
	}
	if !acquired {
		return nil, nil, NewConcurrentRequest(key, int(ic.cfg.LockRetryDelay.Seconds()*float64(ic.cfg.MaxLockAttempts))+1)
	}

	record, err := ic.storage.Get(ctx, key)
	if err != nil {
		_, _ = ic.lock.Release(ctx, key, token)
		return nil, nil, NewBackendError("storage.get", err)
	}
	if record != nil {
		if ic.cfg.UseFastCache && ic.hotCache != nil {
			ic.hotCache.Warm(key, now)
		}
		_, _ = ic.lock.Release(ctx, key, token)
		return record, nil, nil
	}

	section := &CriticalSection{Key: key, Token: token}

	if ic.cfg.OverSellProtection && ic.overSell != nil && info.ProductID != "" {
		qty, qerr := parseQuantity(info.Quantity)
		if qerr != nil {
			_, _ = ic.lock.Release(ctx, key, token)
			return nil, nil, NewInvalidKey("malformed quantity")
		}
		release, rerr := ic.overSell.Reserve(ctx, StockRequest{ProductID: info.ProductID, Quantity: qty})
		if rerr != nil {
			_, _ = ic.lock.Release(ctx, key, token)
			return nil, nil, rerr
		}
		section.overSellDone = release
	}

	return nil, section, nil
}

// After runs CAPTURE's follow-up: STORE (unless Mode == Lax), WARM_HOT, the
// oversell compensating hook, and RELEASE_LOCK. Storage write failures are
// logged by the caller (not returned as a client-visible error) per the
// Backend error policy in spec.md §7 — After surfaces them so the caller
// can decide how to log, but never turns them into a rejected response: the
// client has already received its result.
func (ic *Interceptor) After(ctx context.Context, section *CriticalSection, captured CapturedResponse) error {
	if section == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "idempotency.after", trace.WithAttributes(
		attribute.String("idempotency.key", section.Key),
		attribute.Int("idempotency.status", captured.Status),
	))
	defer span.End()

	defer func() {
		if section.overSellDone != nil {
			success := captured.Status >= 200 && captured.Status < 300
			section.overSellDone(ctx, success)
		}
		_, _ = ic.lock.Release(ctx, section.Key, section.Token)
	}()

	if ic.cfg.Mode == Lax {
		return nil
	}

	if captured.Status < 200 || captured.Status > 399 {
		return nil
	}

	record := NewStoredRecord(captured.Status, captured.Body, stripHopByHop(captured.Headers), ic.cfg.TTL, ic.now())
	if _, err := ic.storage.Put(ctx, section.Key, record, ic.cfg.TTL); err != nil {
		return NewBackendError("storage.put", err)
	}

	if ic.cfg.UseFastCache && ic.hotCache != nil {
		ic.hotCache.Warm(section.Key, ic.now())
	}

	return nil
}

// acquireWithRetry bounds ACQUIRE_LOCK to cfg.MaxLockAttempts attempts,
// sleeping cfg.LockRetryDelay between them, honoring context cancellation.
func (ic *Interceptor) acquireWithRetry(ctx context.Context, key string) (LockToken, bool, error) {
	attempts := ic.cfg.MaxLockAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		token, ok, err := ic.lock.Acquire(ctx, key, ic.cfg.LockTTL)
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}
		if attempt < attempts-1 {
			ic.sleep(ic.cfg.LockRetryDelay)
		}
	}
	return "", false, nil
}

func stripHopByHop(headers []Header) []Header {
	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		if IsHopByHop(h.Name) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// AsRejection extracts the *apperror.AppError carried by a Before error so
// callers that don't import apperror directly for type switches can still
// special-case by HTTP status if needed.
func AsRejection(err error) (*apperror.AppError, bool) {
	return apperror.AsAppError(err)
}
