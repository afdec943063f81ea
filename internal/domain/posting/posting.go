// Package posting implements the accumulation-register posting engine shared
// by every document type (GoodsReceipt, GoodsIssue, Inventory, ...).
package posting

import (
	"context"
	"fmt"

	"metapus/internal/core/apperror"
	"metapus/internal/core/entity"
	"metapus/internal/core/id"
	"metapus/internal/core/tenant"
	"metapus/internal/core/tx"
	"metapus/internal/domain/registers/stock"
)

// Postable is implemented by every document type that can be posted to
// accumulation registers. entity.Document supplies default implementations
// for everything except GetDocumentType and GenerateMovements.
type Postable interface {
	GetID() id.ID
	GetDocumentType() string
	GetPostedVersion() int
	IsPosted() bool
	CanPost(ctx context.Context) error
	MarkPosted()
	MarkUnposted()
	GenerateMovements(ctx context.Context) (*MovementSet, error)
}

// MovementSet collects the register movements a document produces when
// posted. Only the stock register exists today; cost and settlement
// registers were dropped as YAGNI (see entity/register.go).
type MovementSet struct {
	Stock []entity.StockMovement
}

// NewMovementSet returns an empty set ready for AddStock calls.
func NewMovementSet() *MovementSet {
	return &MovementSet{Stock: make([]entity.StockMovement, 0)}
}

// AddStock appends a stock movement to the set.
func (m *MovementSet) AddStock(mv entity.StockMovement) {
	m.Stock = append(m.Stock, mv)
}

// Engine posts and unposts documents against the stock register, enforcing
// negative-balance prevention for expense movements.
type Engine struct {
	stock     *stock.Service
	txManager tx.Manager // Optional; obtained from context when nil (DB-per-tenant).
}

// NewEngine builds an Engine bound to one stock register service.
func NewEngine(stockService *stock.Service) *Engine {
	return &Engine{stock: stockService}
}

// WithTxManager pins an explicit tx.Manager instead of resolving one from
// context per call. Used in tests that don't carry a tenant pool in ctx.
func (e *Engine) WithTxManager(txm tx.Manager) *Engine {
	e.txManager = txm
	return e
}

func (e *Engine) getTxManager(ctx context.Context) (tx.Manager, error) {
	if e.txManager != nil {
		return e.txManager, nil
	}
	return tenant.GetTxManager(ctx)
}

// Post runs CanPost, generates movements, validates stock availability for
// any expense movement, records them, marks the document posted, and
// persists it via updateDoc — all inside one transaction.
func (e *Engine) Post(ctx context.Context, doc Postable, updateDoc func(ctx context.Context) error) error {
	if err := doc.CanPost(ctx); err != nil {
		return err
	}

	movements, err := doc.GenerateMovements(ctx)
	if err != nil {
		return fmt.Errorf("generate movements: %w", err)
	}

	txm, err := e.getTxManager(ctx)
	if err != nil {
		return apperror.NewInternal(err).WithDetail("missing", "tx_manager")
	}

	wasPosted := doc.IsPosted()
	newVersion := doc.GetPostedVersion() + 1

	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := e.reserveExpense(ctx, movements.Stock); err != nil {
			return err
		}

		if wasPosted {
			// Re-posting: drop the previous version's movements before the
			// new ones are recorded, so a recorder never carries two live
			// versions at once.
			if err := e.stock.ReverseMovements(ctx, doc.GetID(), newVersion); err != nil {
				return err
			}
		}

		if err := e.stock.RecordMovements(ctx, movements.Stock); err != nil {
			return err
		}

		doc.MarkPosted()
		return updateDoc(ctx)
	})
}

// Unpost deletes every movement the document ever recorded and clears its
// posted flag.
func (e *Engine) Unpost(ctx context.Context, doc Postable, updateDoc func(ctx context.Context) error) error {
	if !doc.IsPosted() {
		return apperror.NewBusinessRule(apperror.CodeDocumentNotPosted, "document is not posted").
			WithDetail("document_id", doc.GetID().String())
	}

	txm, err := e.getTxManager(ctx)
	if err != nil {
		return apperror.NewInternal(err).WithDetail("missing", "tx_manager")
	}

	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := e.stock.ReverseMovements(ctx, doc.GetID(), doc.GetPostedVersion()+1); err != nil {
			return err
		}
		doc.MarkUnposted()
		return updateDoc(ctx)
	})
}

// reserveExpense checks stock availability for every expense movement,
// aggregated per warehouse+product, before any movement is recorded.
func (e *Engine) reserveExpense(ctx context.Context, movements []entity.StockMovement) error {
	type key struct{ warehouse, product string }
	totals := make(map[key]entity.StockMovement)
	for _, m := range movements {
		if m.RecordType != entity.RecordTypeExpense {
			continue
		}
		k := key{m.WarehouseID.String(), m.ProductID.String()}
		existing := totals[k]
		existing.WarehouseID = m.WarehouseID
		existing.ProductID = m.ProductID
		existing.Quantity += m.Quantity
		totals[k] = existing
	}
	if len(totals) == 0 {
		return nil
	}

	reservations := make([]stock.StockReservation, 0, len(totals))
	for _, m := range totals {
		reservations = append(reservations, stock.StockReservation{
			WarehouseID: m.WarehouseID,
			ProductID:   m.ProductID,
			RequiredQty: m.Quantity,
		})
	}
	return e.stock.CheckAndReserveStock(ctx, reservations)
}
