package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"poolbase/native/pool"
)

func testSnapshot() *pool.Snapshot {
	buyer1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer2 := common.HexToAddress("0x2222222222222222222222222222222222222222")
	token := common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	return &pool.Snapshot{
		Status:          uint8(pool.StatusPaid),
		Restricted:      true,
		MinContribution: big.NewInt(1_000_000),
		MaxContribution: big.NewInt(5_000_000),
		MaxPoolBalance:  big.NewInt(10_000_000),
		Participants: []pool.ParticipantSnapshot{
			{
				Address:       buyer1,
				Contribution:  big.NewInt(3_000_000),
				Remaining:     big.NewInt(0),
				Whitelisted:   true,
				Exists:        true,
				GasOwed:       true,
				RefundClaimed: big.NewInt(0),
			},
			{
				Address:       buyer2,
				Contribution:  big.NewInt(0),
				Remaining:     big.NewInt(1_000_000),
				Whitelisted:   false,
				Exists:        true,
				RefundClaimed: big.NewInt(250),
			},
		},
		PoolBalance:           big.NewInt(3_000_000),
		TotalContributors:     1,
		HeldBalance:           big.NewInt(1_500_000),
		CreatorFeesPerEther:   big.NewInt(5_000),
		TeamFeesPerEther:      big.NewInt(2_500),
		FeesWithheld:          big.NewInt(15),
		TotalTokenDrops:       2,
		GasCostPerContributor: big.NewInt(12_000),
		ContributorsAtPayout:  1,
		ReservePrepaid:        false,
		DistributionReserve:   big.NewInt(12_000),
		TokensConfirmed:       true,
		ConfirmedToken:        token,
		Tokens: []pool.TokenSnapshot{
			{
				Token: token,
				Sent:  big.NewInt(750),
				Paid: []pool.TokenPaidSnapshot{
					{Participant: buyer1, Amount: big.NewInt(750)},
				},
			},
		},
		ExpectingRefund: false,
		TotalRefunded:   big.NewInt(0),
	}
}

func TestPoolStoreRoundTrip(t *testing.T) {
	store := NewPoolStore(NewMemDB())
	id := common.HexToAddress("0xf0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0")
	snap := testSnapshot()

	ok, err := store.Has(id)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = store.Load(id)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(id, snap))
	ok, err = store.Has(id)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Load(id)
	require.NoError(t, err)
	require.Equal(t, snap.Status, got.Status)
	require.Equal(t, snap.Restricted, got.Restricted)
	require.Len(t, got.Participants, 2)
	require.Equal(t, snap.Participants[0].Address, got.Participants[0].Address)
	require.Zero(t, got.Participants[0].Contribution.Cmp(big.NewInt(3_000_000)))
	require.True(t, got.Participants[0].GasOwed)
	require.False(t, got.Participants[1].Whitelisted)
	require.Zero(t, got.Participants[1].RefundClaimed.Cmp(big.NewInt(250)))
	require.Zero(t, got.PoolBalance.Cmp(snap.PoolBalance))
	require.Equal(t, snap.TotalContributors, got.TotalContributors)
	require.Equal(t, snap.TotalTokenDrops, got.TotalTokenDrops)
	require.True(t, got.TokensConfirmed)
	require.Equal(t, snap.ConfirmedToken, got.ConfirmedToken)
	require.Len(t, got.Tokens, 1)
	require.Zero(t, got.Tokens[0].Sent.Cmp(big.NewInt(750)))
	require.Len(t, got.Tokens[0].Paid, 1)
}

func TestPoolStoreOverwriteAndDelete(t *testing.T) {
	store := NewPoolStore(NewMemDB())
	id := common.HexToAddress("0xf0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0")
	snap := testSnapshot()
	require.NoError(t, store.Save(id, snap))

	snap.Status = uint8(pool.StatusRefunding)
	snap.ExpectingRefund = true
	snap.TotalRefunded = big.NewInt(42)
	require.NoError(t, store.Save(id, snap))

	got, err := store.Load(id)
	require.NoError(t, err)
	require.Equal(t, uint8(pool.StatusRefunding), got.Status)
	require.True(t, got.ExpectingRefund)
	require.Zero(t, got.TotalRefunded.Cmp(big.NewInt(42)))

	require.NoError(t, store.Delete(id))
	_, err = store.Load(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDBIsolation(t *testing.T) {
	db := NewMemDB()
	key := []byte("k")
	val := []byte{1, 2, 3}
	require.NoError(t, db.Put(key, val))
	val[0] = 9
	got, err := db.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
}
