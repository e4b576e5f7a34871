package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store { return NewMemory() })
}

func TestMemory_ReturnedProcurementIsDetached(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveProcurement(ctx, ledger.Procurement{
			ID:    "p-1",
			Items: []ledger.LineItem{{Manufacturer: "Apple", Model: "iPhone 15", Quantity: 1}},
		})
	}))

	got, err := m.GetProcurement(ctx, "p-1")
	require.NoError(t, err)
	got.Items[0].Model = "tampered"

	again, err := m.GetProcurement(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "iPhone 15", again.Items[0].Model)
}
