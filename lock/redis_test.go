package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/store"
)

func newTestLocker(t *testing.T, opts ...Option) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, opts...), mr
}

func TestRedisLocker_LockAndRelease(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Lock(ctx, "ledger:supplier:a", "ledger:supplier:b")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledger:supplier:a"))
	assert.True(t, mr.Exists("ledger:supplier:b"))

	release()
	assert.False(t, mr.Exists("ledger:supplier:a"))
	assert.False(t, mr.Exists("ledger:supplier:b"))
}

func TestRedisLocker_HeldKeyIsConflict(t *testing.T) {
	// GIVEN: one holder and a second locker that retries briefly
	l, _ := newTestLocker(t, WithRetry(time.Millisecond, 2))
	ctx := context.Background()

	release, err := l.Lock(ctx, "ledger:supplier:b")
	require.NoError(t, err)
	defer release()

	// WHEN: another caller wants a and b
	_, err = l.Lock(ctx, "ledger:supplier:a", "ledger:supplier:b")

	// THEN: it fails as a conflict and gives a back
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))

	again, err := l.Lock(ctx, "ledger:supplier:a")
	require.NoError(t, err, "a should have been released after the failed attempt")
	again()
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	l, _ := newTestLocker(t, WithRetry(5*time.Millisecond, 200))
	ctx := context.Background()

	release, err := l.Lock(ctx, "ledger:supplier:a")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	second, err := l.Lock(ctx, "ledger:supplier:a")
	require.NoError(t, err)
	second()
}

func TestRedisLocker_ExpiresAfterTTL(t *testing.T) {
	l, mr := newTestLocker(t, WithTTL(time.Second), WithRetry(time.Millisecond, 1))
	ctx := context.Background()

	_, err := l.Lock(ctx, "ledger:supplier:a")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := l.Lock(ctx, "ledger:supplier:a")
	require.NoError(t, err)
	release()
}

func TestRedisLocker_SerializesService(t *testing.T) {
	// GIVEN: a service guarded by the redis locker
	l, _ := newTestLocker(t)
	svc := ledger.NewService(store.NewMemory(), ledger.WithLocker(l))
	ctx := context.Background()

	sup, err := svc.CreateSupplier(ctx, ledger.CreateSupplierInput{Name: "Acme Mobile"})
	require.NoError(t, err)

	// WHEN: many procurements are created concurrently
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateProcurement(ctx, sup.ID, ledger.ProcurementInput{
				PurchaseDate: time.Now(),
				Items:        []ledger.LineItem{{Manufacturer: "Xiaomi", Model: "Redmi 13", Quantity: 1, UnitPrice: decimal.NewFromInt(100)}},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: every increment landed
	got, err := svc.GetSupplier(ctx, sup.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100*n).Equal(got.TotalOutstanding), got.TotalOutstanding.String())

	summary, err := svc.SupplierLedgerSummary(ctx, sup.ID)
	require.NoError(t, err)
	assert.True(t, summary.InSync())
}
