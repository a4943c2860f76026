package offer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/escrow"
	"github.com/homeflowhq/homeflow/internal/notify"
)

const (
	buyerID   = "usr_buyer0000000000000000"
	sellerID  = "usr_seller000000000000000"
	listingID = "lst_a1b2c3d4e5f60718293a4b"
)

var seller = &auth.Actor{UserID: sellerID, Role: auth.RoleSeller}

func newTestService() (*Service, *escrow.MemoryStore) {
	escrows := escrow.NewMemoryStore()
	store := NewMemoryStore(escrows)
	return NewService(store), escrows
}

func submit(t *testing.T, svc *Service, amount int64) *Offer {
	t.Helper()
	o, err := svc.Submit(context.Background(), buyerID, SubmitRequest{ListingID: listingID, Amount: amount})
	require.NoError(t, err)
	return o
}

func amt(v int64) *int64 { return &v }

func TestSubmit(t *testing.T) {
	svc, _ := newTestService()
	o := submit(t, svc, 440000)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(440000), o.Amount)
	assert.Equal(t, buyerID, o.BuyerID)
	assert.Equal(t, listingID, o.ListingID)

	// No audit entries until someone responds
	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSubmitNegativeAmountRejected(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Submit(context.Background(), buyerID, SubmitRequest{ListingID: listingID, Amount: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSubmitZeroAmountAllowed(t *testing.T) {
	svc, _ := newTestService()
	o := submit(t, svc, 0)
	assert.Equal(t, int64(0), o.Amount)
}

func TestSubmitNeverMerges(t *testing.T) {
	svc, _ := newTestService()
	a := submit(t, svc, 100)
	b := submit(t, svc, 100)
	assert.NotEqual(t, a.ID, b.ID)
}

// Scenario: counter overwrites the amount and records COUNTER:<amount>.
func TestRespondCounter(t *testing.T) {
	svc, _ := newTestService()
	o := submit(t, svc, 440000)

	got, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amt(450000)})
	require.NoError(t, err)
	assert.Equal(t, StatusCountered, got.Status)
	assert.Equal(t, int64(450000), got.Amount)

	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "COUNTER:450000", hist[0].Message)
	assert.Equal(t, auth.RoleSeller, hist[0].FromRole)
}

func TestRespondCounterRequiresPositiveAmount(t *testing.T) {
	svc, escrows := newTestService()
	o := submit(t, svc, 440000)

	for _, amount := range []*int64{nil, amt(0), amt(-5)} {
		_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amount})
		assert.ErrorIs(t, err, ErrCounterAmountRequired)
	}

	// Nothing was modified or created
	cur, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cur.Status)
	assert.Equal(t, int64(440000), cur.Amount)

	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)

	e, err := escrows.GetByOffer(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Nil(t, e)
}

// Scenario: accepting a countered offer opens an escrow with no documents.
func TestRespondAcceptOpensEscrow(t *testing.T) {
	svc, escrows := newTestService()
	o := submit(t, svc, 440000)

	_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amt(450000)})
	require.NoError(t, err)

	got, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionAccept})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, int64(450000), got.Amount)

	e, err := escrow.NewService(escrows).GetByOffer(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, escrow.StatusOpen, e.Status)
	assert.Equal(t, buyerID, e.BuyerID)
	assert.Equal(t, sellerID, e.SellerID)
	assert.Empty(t, e.Documents)

	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "COUNTER:450000", hist[0].Message)
	assert.Equal(t, "ACCEPT", hist[1].Message)
}

func TestRespondDecline(t *testing.T) {
	svc, escrows := newTestService()
	o := submit(t, svc, 300000)

	got, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionDecline})
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, got.Status)

	// Declining never opens an escrow
	e, err := escrows.GetByOffer(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Nil(t, e)

	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "DECLINE", hist[0].Message)
}

func TestRespondUnknownAction(t *testing.T) {
	svc, _ := newTestService()
	o := submit(t, svc, 100)
	_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: Action("withdraw")})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestRespondUnknownOffer(t *testing.T) {
	svc, escrows := newTestService()
	_, err := svc.Respond(context.Background(), "off_missing00000000000000", seller, RespondRequest{Action: ActionAccept})
	assert.ErrorIs(t, err, ErrOfferNotFound)

	// No rows created
	e, err := escrows.GetByOffer(context.Background(), "off_missing00000000000000")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRespondTerminalOfferRejected(t *testing.T) {
	svc, _ := newTestService()

	accepted := submit(t, svc, 100)
	_, err := svc.Respond(context.Background(), accepted.ID, seller, RespondRequest{Action: ActionAccept})
	require.NoError(t, err)

	declined := submit(t, svc, 100)
	_, err = svc.Respond(context.Background(), declined.ID, seller, RespondRequest{Action: ActionDecline})
	require.NoError(t, err)

	for _, o := range []*Offer{accepted, declined} {
		for _, action := range []Action{ActionAccept, ActionDecline, ActionCounter} {
			_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: action, Amount: amt(1)})
			assert.ErrorIs(t, err, ErrOfferResolved, "offer %s action %s", o.ID, action)
		}
		// Exactly one audit entry remains
		hist, err := svc.History(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	}
}

func TestRespondCounteredOfferStillOpen(t *testing.T) {
	svc, _ := newTestService()
	o := submit(t, svc, 100)

	// Countering twice is allowed; COUNTERED is re-enterable
	_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amt(120)})
	require.NoError(t, err)
	got, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amt(110)})
	require.NoError(t, err)
	assert.Equal(t, StatusCountered, got.Status)
	assert.Equal(t, int64(110), got.Amount)
}

// Forcing the escrow insert to fail must roll back the status update and
// the audit entry from the same call.
func TestAcceptAtomicityOnEscrowConflict(t *testing.T) {
	svc, escrows := newTestService()
	o := submit(t, svc, 440000)

	// Simulate a conflicting escrow created out of band
	require.NoError(t, escrows.Create(context.Background(), escrow.NewEscrow(o.ID, buyerID, sellerID)))

	_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionAccept})
	assert.ErrorIs(t, err, escrow.ErrEscrowExists)

	cur, err := svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cur.Status, "status update must not survive a failed accept")

	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Empty(t, hist, "audit entry must not survive a failed accept")
}

func TestHistoryIsStableAcrossReads(t *testing.T) {
	svc, _ := newTestService()
	o := submit(t, svc, 100)
	_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amt(150)})
	require.NoError(t, err)
	_, err = svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionAccept})
	require.NoError(t, err)

	first, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	second, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Message, second[i].Message)
	}
	// Oldest first
	assert.True(t, !first[1].CreatedAt.Before(first[0].CreatedAt))
}

func TestListByBuyerAndListing(t *testing.T) {
	svc, _ := newTestService()
	a := submit(t, svc, 100)
	b := submit(t, svc, 200)

	byBuyer, err := svc.ListByBuyer(context.Background(), buyerID)
	require.NoError(t, err)
	require.Len(t, byBuyer, 2)
	assert.Equal(t, a.ID, byBuyer[0].ID)
	assert.Equal(t, b.ID, byBuyer[1].ID)

	byListing, err := svc.ListByListing(context.Background(), listingID)
	require.NoError(t, err)
	assert.Len(t, byListing, 2)

	none, err := svc.ListByBuyer(context.Background(), "usr_other0000000000000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAcceptEmitsEventAfterCommit(t *testing.T) {
	escrows := escrow.NewMemoryStore()
	store := NewMemoryStore(escrows)
	outbox := notify.NewOutbox(8, slog.New(slog.DiscardHandler))
	svc := NewService(store).WithOutbox(outbox)

	o, err := svc.Submit(context.Background(), buyerID, SubmitRequest{ListingID: listingID, Amount: 500})
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionAccept})
	require.NoError(t, err)

	// The event sits in the queue; no worker is draining it here
	assert.Equal(t, 1, outbox.Depth())
}

func TestFailedRespondEmitsNothing(t *testing.T) {
	escrows := escrow.NewMemoryStore()
	store := NewMemoryStore(escrows)
	outbox := notify.NewOutbox(8, slog.New(slog.DiscardHandler))
	svc := NewService(store).WithOutbox(outbox)

	o, err := svc.Submit(context.Background(), buyerID, SubmitRequest{ListingID: listingID, Amount: 500})
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionCounter, Amount: amt(0)})
	require.Error(t, err)
	assert.Equal(t, 0, outbox.Depth())
}

func TestResponseMessageEncoding(t *testing.T) {
	assert.Equal(t, "ACCEPT", responseMessage(ActionAccept, nil))
	assert.Equal(t, "DECLINE", responseMessage(ActionDecline, nil))
	assert.Equal(t, "COUNTER:450000", responseMessage(ActionCounter, amt(450000)))
}

func TestConcurrentRespondsSerialize(t *testing.T) {
	svc, escrows := newTestService()
	o := submit(t, svc, 100)

	done := make(chan error, 2)
	go func() {
		_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionAccept})
		done <- err
	}()
	go func() {
		_, err := svc.Respond(context.Background(), o.ID, seller, RespondRequest{Action: ActionAccept})
		done <- err
	}()

	var failures int
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				failures++
				assert.ErrorIs(t, err, ErrOfferResolved)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("responds did not complete")
		}
	}
	assert.Equal(t, 1, failures, "exactly one accept should win")

	// Exactly one escrow exists
	e, err := escrows.GetByOffer(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, e)

	hist, err := svc.History(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}
