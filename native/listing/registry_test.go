package listing

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/storage"
)

var (
	shopA = common.HexToAddress("0x000000000000000000000000000000000000a001")
	shopB = common.HexToAddress("0x000000000000000000000000000000000000b001")
)

func newRegistry(t *testing.T) (*Registry, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	manager.SetNowFunc(func() int64 { return 500 })
	reg := NewRegistry(manager)
	rec := &events.Recorder{}
	reg.SetEmitter(rec)
	return reg, rec
}

func TestListingLifecycle(t *testing.T) {
	reg, rec := newRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, shopA, &Listing{ItemID: 3, Price: uint256.NewInt(100), AffiliateFeeBps: 2_000})
	require.NoError(t, err)
	require.Equal(t, uint64(500), created.ListingTime)

	_, err = reg.Create(ctx, shopA, &Listing{ItemID: 3, Price: uint256.NewInt(1)})
	require.ErrorIs(t, err, coreerrors.ErrDuplicateListing)

	// Namespaces are per storefront.
	_, err = reg.Create(ctx, shopB, &Listing{ItemID: 3, Price: uint256.NewInt(7)})
	require.NoError(t, err)

	updated, err := reg.Update(ctx, shopA, &Listing{ItemID: 3, Price: uint256.NewInt(150), AffiliateFeeBps: 100})
	require.NoError(t, err)
	require.Equal(t, uint64(150), updated.Price.Uint64())
	require.Equal(t, uint64(500), updated.ListingTime)

	_, err = reg.Create(ctx, shopA, &Listing{ItemID: 1, Price: uint256.NewInt(10)})
	require.NoError(t, err)
	all, err := reg.List(ctx, shopA)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(1), all[0].ItemID)

	require.NoError(t, reg.Remove(ctx, shopA, 3))
	_, err = reg.Get(ctx, shopA, 3)
	require.ErrorIs(t, err, coreerrors.ErrListingNotFound)
	require.ErrorIs(t, reg.Remove(ctx, shopA, 3), coreerrors.ErrListingNotFound)

	got, err := reg.Get(ctx, shopB, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.Price.Uint64())

	require.Len(t, rec.OfType(EventTypeCreated), 3)
	require.Len(t, rec.OfType(EventTypeUpdated), 1)
	require.Len(t, rec.OfType(EventTypeRemoved), 1)
}

func TestListingRejectsFeeAboveOneHundredPercent(t *testing.T) {
	reg, _ := newRegistry(t)
	_, err := reg.Create(context.Background(), shopA, &Listing{ItemID: 1, Price: uint256.NewInt(1), AffiliateFeeBps: 10_001})
	require.ErrorIs(t, err, coreerrors.ErrInvalidParameters)
	_, err = reg.Update(context.Background(), shopA, &Listing{ItemID: 1, Price: uint256.NewInt(1), AffiliateFeeBps: 10_001})
	require.ErrorIs(t, err, coreerrors.ErrInvalidParameters)
}
