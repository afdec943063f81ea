package v1

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	appctx "metapus/internal/core/context"
	"metapus/internal/core/tenant"
	"metapus/internal/domain/idempotency"
	"metapus/internal/infrastructure/http/v1/middleware"
	"metapus/internal/infrastructure/idempotency/sqlstore"
)

// idempotencyWiring builds one *idempotency.Interceptor per request — Storage
// and Lock both wrap the tenant pool resolved by middleware.TenantDB earlier
// in the chain — while keeping a single Hot Cache, and a single Maintenance
// loop, per tenant alive across requests, since both are meant to survive
// between them rather than being rebuilt on every call.
type idempotencyWiring struct {
	cfg    idempotency.Config
	filter *idempotency.SensitiveFilter

	mu           sync.Mutex
	hotCaches    map[string]*idempotency.HotCache
	maintenances map[string]*idempotency.Maintenance
}

func newIdempotencyWiring(ttl time.Duration) *idempotencyWiring {
	cfg := idempotency.DefaultConfig()
	cfg.TTL = ttl
	cfg.OverSellProtection = false // no StockCounters backend is wired at the HTTP layer, so no route uses the Oversell Guard
	return &idempotencyWiring{
		cfg:          cfg,
		filter:       idempotency.NewSensitiveFilter(),
		hotCaches:    make(map[string]*idempotency.HotCache),
		maintenances: make(map[string]*idempotency.Maintenance),
	}
}

func (w *idempotencyWiring) hotCacheFor(tenantID string) *idempotency.HotCache {
	w.mu.Lock()
	defer w.mu.Unlock()
	hc, ok := w.hotCaches[tenantID]
	if !ok {
		hc = idempotency.NewHotCache(w.cfg.FastCacheTTL)
		w.hotCaches[tenantID] = hc
	}
	return hc
}

// ensureMaintenance lazily starts one Maintenance loop per tenant, the first
// time that tenant is seen, mirroring hotCacheFor's lazy-per-tenant pattern.
// A tenant's pool lives for the process lifetime once opened (tenant.Manager
// evicts idle pools, not active ones), so the loop is never explicitly
// stopped here — it shares that lifetime.
func (w *idempotencyWiring) ensureMaintenance(tenantID string, storage idempotency.Storage, hotCache *idempotency.HotCache) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.maintenances[tenantID]; ok {
		return
	}
	m := idempotency.NewMaintenance([]idempotency.Storage{storage}, hotCache, idempotency.DefaultMaintenanceInterval, idempotency.DefaultCleanupBatch)
	m.Start(context.Background())
	w.maintenances[tenantID] = m
}

func (w *idempotencyWiring) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		pool := tenant.MustGetPool(ctx)
		tenantID := appctx.GetTenantID(ctx)

		storage := sqlstore.NewStore(pool)
		lock := sqlstore.NewAdvisoryLock(pool)
		hotCache := w.hotCacheFor(tenantID)
		w.ensureMaintenance(tenantID, storage, hotCache)

		interceptor := idempotency.NewInterceptor(w.cfg, storage, lock, hotCache, nil)
		middleware.Idempotency(interceptor, w.cfg.HeaderName, w.filter)(c)
	}
}
