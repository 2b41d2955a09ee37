package stock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/db/dbtest"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

func TestReserveDecrementsStock(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	product := dbtest.SeedProduct(t, db, store.ID, 1000, 5)

	require.NoError(t, ledger.Reserve(ctx, db, product.ID, 3))

	available, err := ledger.Available(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestReserveRejectsInsufficientStock(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	product := dbtest.SeedProduct(t, db, store.ID, 1000, 2)

	err := ledger.Reserve(ctx, db, product.ID, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	available, err := ledger.Available(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, available, "failed reservation must not touch stock")
}

func TestReserveRejectsInactiveProduct(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	product := dbtest.SeedProduct(t, db, store.ID, 1000, 10)
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", product.ID).Update("is_active", false).Error)

	err := ledger.Reserve(ctx, db, product.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReserveValidatesQuantity(t *testing.T) {
	db := dbtest.Open(t)
	err := NewLedger(db).Reserve(context.Background(), db, uuid.New(), 0)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestReserveAllRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	plenty := dbtest.SeedProduct(t, db, store.ID, 1000, 10)
	scarce := dbtest.SeedProduct(t, db, store.ID, 1000, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReserveAll(ctx, tx, []Line{
			{ProductID: plenty.ID, Quantity: 4},
			{ProductID: scarce.ID, Quantity: 2},
		})
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	available, err := ledger.Available(ctx, plenty.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, available, "earlier lines must roll back")
}

func TestRestoreItems(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	product := dbtest.SeedProduct(t, db, store.ID, 1000, 0)

	require.NoError(t, ledger.RestoreItems(ctx, db, []models.OrderItem{
		{ProductID: product.ID, Quantity: 2},
		{ProductID: product.ID, Quantity: 3},
	}))

	available, err := ledger.Available(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestAvailableUnknownProduct(t *testing.T) {
	db := dbtest.Open(t)
	_, err := NewLedger(db).Available(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	const (
		units    = 5
		attempts = 20
	)
	ctx := context.Background()
	db := dbtest.OpenConcurrent(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	product := dbtest.SeedProduct(t, db, store.ID, 1000, units)

	start := make(chan struct{})
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := db.Transaction(func(tx *gorm.DB) error {
				return ledger.Reserve(ctx, tx, product.ID, 1)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, units, successes)
	assert.Equal(t, attempts-units, insufficient)

	available, err := ledger.Available(ctx, product.ID)
	require.NoError(t, err)
	assert.Zero(t, available)
}

// A competing reservation commits after both callers saw the last unit but
// before the first caller's decrement runs. The stale caller must be refused.
func TestReserveRejectsWhenCompetitorCommitsFirst(t *testing.T) {
	ctx := context.Background()
	db := dbtest.OpenConcurrent(t)
	ledger := NewLedger(db)
	store := dbtest.SeedStore(t, db, uuid.New())
	product := dbtest.SeedProduct(t, db, store.ID, 1000, 1)

	for range 2 {
		seen, err := ledger.Available(ctx, product.ID)
		require.NoError(t, err)
		require.Equal(t, 1, seen)
	}

	// The hook runs synchronously, and again for the competitor's own update.
	var (
		fired         bool
		competitorErr error
	)
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:competing_reserve", func(*gorm.DB) {
		if fired {
			return
		}
		fired = true
		competitorErr = db.Transaction(func(other *gorm.DB) error {
			return ledger.Reserve(ctx, other, product.ID, 1)
		})
	}))
	t.Cleanup(func() { _ = db.Callback().Update().Remove("test:competing_reserve") })

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(ctx, tx, product.ID, 1)
	})
	require.True(t, fired)
	require.NoError(t, competitorErr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	available, err := ledger.Available(ctx, product.ID)
	require.NoError(t, err)
	assert.Zero(t, available)
}
