package posting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metapus/internal/core/apperror"
	"metapus/internal/core/entity"
	"metapus/internal/core/id"
	"metapus/internal/core/types"
	"metapus/internal/domain/registers/stock"
)

type fakeTxManager struct{}

func (fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeStockRepo struct {
	movements []entity.StockMovement
	balances  map[string]types.Quantity
	deleted   []id.ID
}

func newFakeStockRepo() *fakeStockRepo {
	return &fakeStockRepo{balances: make(map[string]types.Quantity)}
}

func (r *fakeStockRepo) key(warehouseID, productID id.ID) string {
	return warehouseID.String() + "|" + productID.String()
}

func (r *fakeStockRepo) CreateMovements(ctx context.Context, movements []entity.StockMovement) error {
	r.movements = append(r.movements, movements...)
	for _, m := range movements {
		r.balances[r.key(m.WarehouseID, m.ProductID)] += m.SignedQuantity()
	}
	return nil
}

func (r *fakeStockRepo) DeleteMovementsByRecorder(ctx context.Context, recorderID id.ID, beforeVersion int) error {
	r.deleted = append(r.deleted, recorderID)
	kept := r.movements[:0]
	for _, m := range r.movements {
		if m.RecorderID == recorderID && m.RecorderVersion < beforeVersion {
			r.balances[r.key(m.WarehouseID, m.ProductID)] -= m.SignedQuantity()
			continue
		}
		kept = append(kept, m)
	}
	r.movements = kept
	return nil
}

func (r *fakeStockRepo) GetMovementsByRecorder(ctx context.Context, recorderID id.ID) ([]entity.StockMovement, error) {
	var out []entity.StockMovement
	for _, m := range r.movements {
		if m.RecorderID == recorderID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeStockRepo) GetBalance(ctx context.Context, warehouseID, productID id.ID) (entity.StockBalance, error) {
	return entity.StockBalance{WarehouseID: warehouseID, ProductID: productID, Quantity: r.balances[r.key(warehouseID, productID)]}, nil
}

func (r *fakeStockRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, productID id.ID) (entity.StockBalance, error) {
	return r.GetBalance(ctx, warehouseID, productID)
}

func (r *fakeStockRepo) GetBalancesByWarehouse(ctx context.Context, warehouseID id.ID, filter stock.BalanceFilter) ([]entity.StockBalance, error) {
	return nil, nil
}

func (r *fakeStockRepo) GetBalancesByProduct(ctx context.Context, productID id.ID) ([]entity.StockBalance, error) {
	return nil, nil
}

func (r *fakeStockRepo) GetBalancesAtDate(ctx context.Context, warehouseID, productID id.ID, date time.Time) (float64, error) {
	return 0, nil
}

func (r *fakeStockRepo) GetMovementHistory(ctx context.Context, productID id.ID, filter stock.MovementFilter) ([]entity.StockMovement, error) {
	return nil, nil
}

func (r *fakeStockRepo) GetTurnover(ctx context.Context, filter stock.TurnoverFilter) (stock.Turnover, error) {
	return stock.Turnover{}, nil
}

func (r *fakeStockRepo) RecalculateBalances(ctx context.Context, warehouseID, productID *id.ID) error {
	return nil
}

// fakeDoc is a minimal Postable used to drive Engine without a real document type.
type fakeDoc struct {
	id            id.ID
	posted        bool
	postedVersion int
	warehouseID   id.ID
	productID     id.ID
	quantity      types.Quantity
	recordType    entity.RecordType
	canPostErr    error
	updateCalls   int
}

func (d *fakeDoc) GetID() id.ID                { return d.id }
func (d *fakeDoc) GetDocumentType() string     { return "FakeDoc" }
func (d *fakeDoc) GetPostedVersion() int       { return d.postedVersion }
func (d *fakeDoc) IsPosted() bool              { return d.posted }
func (d *fakeDoc) MarkPosted()                 { d.posted = true; d.postedVersion++ }
func (d *fakeDoc) MarkUnposted()               { d.posted = false }
func (d *fakeDoc) CanPost(ctx context.Context) error { return d.canPostErr }

func (d *fakeDoc) GenerateMovements(ctx context.Context) (*MovementSet, error) {
	set := NewMovementSet()
	set.AddStock(entity.NewStockMovement(d.id, d.GetDocumentType(), d.postedVersion+1, time.Now(), d.recordType, d.warehouseID, d.productID, d.quantity))
	return set, nil
}

func newEngine(repo stock.Repository) *Engine {
	return NewEngine(stock.NewService(repo)).WithTxManager(fakeTxManager{})
}

func TestEngine_PostReceiptRecordsMovementAndMarksPosted(t *testing.T) {
	repo := newFakeStockRepo()
	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New(), warehouseID: id.New(), productID: id.New(), quantity: types.NewQuantityFromFloat64(10), recordType: entity.RecordTypeReceipt}

	err := engine.Post(context.Background(), doc, func(ctx context.Context) error { doc.updateCalls++; return nil })

	require.NoError(t, err)
	assert.True(t, doc.posted)
	assert.Equal(t, 1, doc.postedVersion)
	assert.Equal(t, 1, doc.updateCalls)
	assert.Len(t, repo.movements, 1)
}

func TestEngine_PostExpenseFailsWhenInsufficientStock(t *testing.T) {
	repo := newFakeStockRepo()
	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New(), warehouseID: id.New(), productID: id.New(), quantity: types.NewQuantityFromFloat64(5), recordType: entity.RecordTypeExpense}

	err := engine.Post(context.Background(), doc, func(ctx context.Context) error { return nil })

	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)
	assert.False(t, doc.posted)
	assert.Empty(t, repo.movements)
}

func TestEngine_PostExpenseSucceedsWhenStockAvailable(t *testing.T) {
	repo := newFakeStockRepo()
	warehouseID, productID := id.New(), id.New()
	repo.balances[repo.key(warehouseID, productID)] = types.NewQuantityFromFloat64(100)

	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New(), warehouseID: warehouseID, productID: productID, quantity: types.NewQuantityFromFloat64(5), recordType: entity.RecordTypeExpense}

	err := engine.Post(context.Background(), doc, func(ctx context.Context) error { return nil })

	require.NoError(t, err)
	assert.True(t, doc.posted)
	assert.Len(t, repo.movements, 1)
}

func TestEngine_PostFailsCanPost(t *testing.T) {
	repo := newFakeStockRepo()
	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New(), canPostErr: apperror.NewValidation("nope")}

	err := engine.Post(context.Background(), doc, func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.False(t, doc.posted)
}

func TestEngine_RepostReversesPreviousVersionBeforeRecordingNew(t *testing.T) {
	repo := newFakeStockRepo()
	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New(), warehouseID: id.New(), productID: id.New(), quantity: types.NewQuantityFromFloat64(10), recordType: entity.RecordTypeReceipt}

	require.NoError(t, engine.Post(context.Background(), doc, func(ctx context.Context) error { return nil }))
	require.NoError(t, engine.Post(context.Background(), doc, func(ctx context.Context) error { return nil }))

	assert.Equal(t, 2, doc.postedVersion)
	assert.Len(t, repo.movements, 1, "only the latest version's movement should remain")
}

func TestEngine_UnpostClearsMovementsAndFlag(t *testing.T) {
	repo := newFakeStockRepo()
	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New(), warehouseID: id.New(), productID: id.New(), quantity: types.NewQuantityFromFloat64(10), recordType: entity.RecordTypeReceipt}
	require.NoError(t, engine.Post(context.Background(), doc, func(ctx context.Context) error { return nil }))

	err := engine.Unpost(context.Background(), doc, func(ctx context.Context) error { return nil })

	require.NoError(t, err)
	assert.False(t, doc.posted)
	assert.Empty(t, repo.movements)
}

func TestEngine_UnpostFailsWhenNotPosted(t *testing.T) {
	repo := newFakeStockRepo()
	engine := newEngine(repo)
	doc := &fakeDoc{id: id.New()}

	err := engine.Unpost(context.Background(), doc, func(ctx context.Context) error { return nil })

	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDocumentNotPosted, appErr.Code)
}
