package offer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/escrow"
	"github.com/homeflowhq/homeflow/internal/testutil"
)

// Integration tests for the Postgres store. Skipped unless POSTGRES_URL
// is set.

func TestPostgresApplyResponse_AcceptOpensEscrow(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	escrowStore := escrow.NewPostgresStore(db)
	svc := NewService(store)

	o, err := svc.Submit(ctx, "usr_b0b0b0b0b0b0b0b0b0b0b0b0", SubmitRequest{
		ListingID: "lst_a1a1a1a1a1a1a1a1a1a1a1a1",
		Amount:    400000,
	})
	require.NoError(t, err)

	seller := &auth.Actor{UserID: "usr_5e11e25e11e25e11e25e11e2", Role: auth.RoleSeller}

	counter := int64(450000)
	o, err = svc.Respond(ctx, o.ID, seller, RespondRequest{Action: ActionCounter, Amount: &counter})
	require.NoError(t, err)
	assert.Equal(t, StatusCountered, o.Status)
	assert.Equal(t, counter, o.Amount)

	o, err = svc.Respond(ctx, o.ID, seller, RespondRequest{Action: ActionAccept})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, o.Status)

	e, err := escrowStore.GetByOffer(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, escrow.StatusOpen, e.Status)
	assert.Equal(t, "usr_b0b0b0b0b0b0b0b0b0b0b0b0", e.BuyerID)
	assert.Equal(t, seller.UserID, e.SellerID)

	history, err := store.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "COUNTER:450000", history[0].Message)
	assert.Equal(t, "ACCEPT", history[1].Message)
}

func TestPostgresApplyResponse_DuplicateEscrowRollsBack(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	escrowStore := escrow.NewPostgresStore(db)
	svc := NewService(store)

	o, err := svc.Submit(ctx, "usr_b0b0b0b0b0b0b0b0b0b0b0b0", SubmitRequest{
		ListingID: "lst_a1a1a1a1a1a1a1a1a1a1a1a1",
		Amount:    250000,
	})
	require.NoError(t, err)

	// Conflicting escrow already present for the offer.
	pre := escrow.NewEscrow(o.ID, o.BuyerID, "usr_5e11e25e11e25e11e25e11e2")
	require.NoError(t, escrowStore.Create(ctx, pre))

	seller := &auth.Actor{UserID: "usr_5e11e25e11e25e11e25e11e2", Role: auth.RoleSeller}
	_, err = svc.Respond(ctx, o.ID, seller, RespondRequest{Action: ActionAccept})
	assert.ErrorIs(t, err, escrow.ErrEscrowExists)

	// The whole response rolled back: status and history untouched.
	got, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	history, err := store.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPostgresHistory_UnknownOfferIsEmpty(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	history, err := store.History(context.Background(), "off_000000000000000000000000")
	require.NoError(t, err)
	assert.Empty(t, history)
}
