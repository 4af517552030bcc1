package services

import (
	"context"
	"testing"
	"time"

	"github.com/bidhouse/apiserver/internal/mq"
	"github.com/bidhouse/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type recordingImages struct {
	removed []string
	err     error
}

func (r *recordingImages) Remove(_ context.Context, publicPath string) error {
	r.removed = append(r.removed, publicPath)
	return r.err
}

type auctionFixture struct {
	users    *fakeUsers
	auctions *fakeAuctions
	bids     *fakeBids
	images   *recordingImages
	events   *fakeEvents
	svc      *AuctionService
}

var (
	alice = types.Account{ID: "u-alice", Email: "alice@example.com", FirstName: "Alice"}
	bob   = types.Account{ID: "u-bob", Email: "bob@example.com", FirstName: "Bob"}
	carol = types.Account{ID: "u-carol", Email: "carol@example.com", FirstName: "Carol"}
	dave  = types.Account{ID: "u-dave", Email: "dave@example.com", FirstName: "Dave"}
)

func newAuctionFixture(t *testing.T) *auctionFixture {
	t.Helper()

	f := &auctionFixture{
		users:  newFakeUsers(alice, bob, carol, dave),
		bids:   newFakeBids(),
		images: &recordingImages{},
		events: &fakeEvents{},
	}
	f.auctions = newFakeAuctions(f.bids)
	f.svc = NewAuctionService(f.auctions, f.bids, f.users, f.images, f.events, nil)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *auctionFixture) auction(owner types.Account, title string, endsIn time.Duration) types.Auction {
	return f.auctions.seed(types.Auction{
		Title:      title,
		StartPrice: 10,
		EndTime:    testNow.Add(endsIn),
		UserID:     owner.ID,
		ImageURL:   "/uploads/auctions/" + title + ".png",
	})
}

func (f *auctionFixture) bid(bidder types.Account, auction types.Auction, amount float64, at time.Time) types.Bid {
	return f.bids.seed(types.Bid{Amount: amount, UserID: bidder.ID, AuctionID: auction.ID, CreatedAt: at})
}

func titles(auctions []types.Auction) []string {
	out := make([]string, 0, len(auctions))
	for _, auction := range auctions {
		out = append(out, auction.Title)
	}
	return out
}

func TestCreateAuction(t *testing.T) {
	f := newAuctionFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateAuction(ctx, CreateAuctionInput{
		Title:      "Lamp",
		StartPrice: "12.50",
		EndTime:    testNow.Add(time.Hour),
	}, alice.Email, "/uploads/auctions/lamp.png")
	require.NoError(t, err)

	assert.NotZero(t, created.ID)
	assert.Equal(t, alice.ID, created.UserID)
	assert.Equal(t, 12.5, created.StartPrice)
	assert.Nil(t, created.CurrentPrice)
	assert.Equal(t, "/uploads/auctions/lamp.png", created.ImageURL)
	assert.Equal(t, []string{mq.EventAuctionCreated}, f.events.eventTypes())
}

func TestCreateAuctionRejectsInput(t *testing.T) {
	tests := []struct {
		name  string
		email string
		price string
		kind  error
	}{
		{name: "unknown owner", email: "ghost@example.com", price: "10", kind: ErrNotAuthorized},
		{name: "non numeric price", email: alice.Email, price: "ten", kind: ErrBadInput},
		{name: "negative price", email: alice.Email, price: "-1", kind: ErrBadInput},
		{name: "empty price", email: alice.Email, price: "", kind: ErrBadInput},
		{name: "fractional cents", email: alice.Email, price: "10.004", kind: ErrBadInput},
		{name: "beyond column range", email: alice.Email, price: "1e13", kind: ErrBadInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuctionFixture(t)
			_, err := f.svc.CreateAuction(context.Background(), CreateAuctionInput{
				Title:      "Lamp",
				StartPrice: tt.price,
				EndTime:    testNow.Add(time.Hour),
			}, tt.email, "")
			require.ErrorIs(t, err, tt.kind)
			assert.Empty(t, f.auctions.auctions)
		})
	}
}

func TestCreateAuctionStoreFailure(t *testing.T) {
	f := newAuctionFixture(t)
	f.auctions.failNext = errBoom

	_, err := f.svc.CreateAuction(context.Background(), CreateAuctionInput{
		Title:      "Lamp",
		StartPrice: "1",
		EndTime:    testNow.Add(time.Hour),
	}, alice.Email, "")
	require.ErrorIs(t, err, ErrBadInput)
	assert.Equal(t, "something went wrong while creating a new auction", Message(err, ""))
}

func TestFindAllAuctionsReturnsActiveWithBidFlag(t *testing.T) {
	f := newAuctionFixture(t)
	ctx := context.Background()

	later := f.auction(alice, "later", 3*time.Hour)
	soon := f.auction(bob, "soon", time.Hour)
	f.auction(alice, "ended", -time.Hour)
	f.auction(alice, "ends-now", 0)
	f.bid(carol, later, 20, testNow.Add(-time.Minute))
	f.bid(dave, soon, 20, testNow.Add(-time.Minute))

	got, err := f.svc.FindAllAuctions(ctx, carol.Email)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "soon", got[0].Title)
	assert.False(t, got[0].UserHasBid)
	assert.Equal(t, "later", got[1].Title)
	assert.True(t, got[1].UserHasBid)
	for _, item := range got {
		assert.True(t, item.EndTime.After(testNow))
	}
}

func TestFindAllAuctionsUnknownRequester(t *testing.T) {
	f := newAuctionFixture(t)

	_, err := f.svc.FindAllAuctions(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestFindAuctionsCreatedByUserPartitionsActiveFirst(t *testing.T) {
	f := newAuctionFixture(t)

	f.auction(alice, "active-2h", 2*time.Hour)
	f.auction(alice, "expired-1h", -time.Hour)
	f.auction(alice, "active-1h", time.Hour)
	f.auction(alice, "expired-3h", -3*time.Hour)
	f.auction(alice, "ends-now", 0)
	f.auction(bob, "not-mine", time.Hour)

	got, err := f.svc.FindAuctionsCreatedByUser(context.Background(), alice.Email)
	require.NoError(t, err)

	assert.Equal(t, []string{"active-1h", "active-2h", "expired-3h", "expired-1h", "ends-now"}, titles(got))
}

func TestFindAllAuctionsByUserIncludesEveryState(t *testing.T) {
	f := newAuctionFixture(t)

	f.auction(alice, "b", time.Hour)
	f.auction(alice, "a", -time.Hour)
	f.auction(bob, "c", time.Hour)

	got, err := f.svc.FindAllAuctionsByUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, titles(got))

	none, err := f.svc.FindAllAuctionsByUser(context.Background(), "u-nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindBiddingAuctionsByUser(t *testing.T) {
	f := newAuctionFixture(t)

	open := f.auction(alice, "open", 2*time.Hour)
	openSooner := f.auction(alice, "open-sooner", time.Hour)
	closed := f.auction(alice, "closed", -time.Hour)
	f.auction(alice, "untouched", time.Hour)

	f.bid(bob, open, 20, testNow.Add(-time.Hour))
	f.bid(bob, open, 30, testNow.Add(-time.Minute))
	f.bid(bob, openSooner, 15, testNow.Add(-time.Minute))
	f.bid(bob, closed, 50, testNow.Add(-2*time.Hour))

	got, err := f.svc.FindBiddingAuctionsByUser(context.Background(), bob.Email)
	require.NoError(t, err)
	assert.Equal(t, []string{"open-sooner", "open"}, titles(got))
}

func TestFindWonAuctionsUsesEarliestBidOnTies(t *testing.T) {
	f := newAuctionFixture(t)

	ended := f.auction(alice, "ended", -time.Hour)
	f.bid(bob, ended, 100, testNow.Add(-4*time.Hour))
	f.bid(carol, ended, 150, testNow.Add(-3*time.Hour))
	f.bid(dave, ended, 150, testNow.Add(-2*time.Hour))

	won, err := f.svc.FindWonAuctionsByUser(context.Background(), carol.Email)
	require.NoError(t, err)
	assert.Equal(t, []string{"ended"}, titles(won))

	for _, loser := range []types.Account{bob, dave} {
		won, err := f.svc.FindWonAuctionsByUser(context.Background(), loser.Email)
		require.NoError(t, err)
		assert.Empty(t, won, loser.FirstName)
	}
}

func TestFindWonAuctionsIgnoresOpenAuctions(t *testing.T) {
	f := newAuctionFixture(t)

	f.auction(alice, "future-no-bids", time.Hour)
	open := f.auction(alice, "open-with-bid", time.Hour)
	f.bid(bob, open, 40, testNow.Add(-time.Minute))

	won, err := f.svc.FindWonAuctionsByUser(context.Background(), bob.Email)
	require.NoError(t, err)
	assert.Empty(t, won)

	bidding, err := f.svc.FindBiddingAuctionsByUser(context.Background(), bob.Email)
	require.NoError(t, err)
	assert.Equal(t, []string{"open-with-bid"}, titles(bidding))

	bidding, err = f.svc.FindBiddingAuctionsByUser(context.Background(), carol.Email)
	require.NoError(t, err)
	assert.Empty(t, bidding)
}

func TestFindAuctionByID(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	got, err := f.svc.FindAuctionByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded, got)

	_, err = f.svc.FindAuctionByID(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "auction with ID 999 not found", Message(err, ""))
}

func TestUpdateAuctionByOwner(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	title := "Desk lamp"
	price := "25"
	end := testNow.Add(5 * time.Hour)
	updated, err := f.svc.UpdateAuction(context.Background(), seeded.ID, alice.Email, UpdateAuctionInput{
		Title:      &title,
		StartPrice: &price,
		EndTime:    &end,
	}, "/uploads/auctions/new.png")
	require.NoError(t, err)

	assert.Equal(t, "Desk lamp", updated.Title)
	assert.Equal(t, 25.0, updated.StartPrice)
	assert.Equal(t, end, updated.EndTime)
	assert.Equal(t, "/uploads/auctions/new.png", updated.ImageURL)
	assert.Equal(t, alice.ID, updated.UserID)
	assert.Equal(t, []string{mq.EventAuctionUpdated}, f.events.eventTypes())
	assert.Equal(t, []string{seeded.ImageURL}, f.images.removed)
}

func TestUpdateAuctionImageReplacementSurvivesRemoveFailure(t *testing.T) {
	f := newAuctionFixture(t)
	f.images.err = errBoom
	seeded := f.auction(alice, "lamp", time.Hour)

	updated, err := f.svc.UpdateAuction(context.Background(), seeded.ID, alice.Email, UpdateAuctionInput{}, "/uploads/auctions/b.png")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/auctions/b.png", updated.ImageURL)
	assert.Equal(t, []string{seeded.ImageURL}, f.images.removed)
}

func TestUpdateAuctionAddsFirstImageWithoutRemoving(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auctions.seed(types.Auction{Title: "bare", StartPrice: 10, EndTime: testNow.Add(time.Hour), UserID: alice.ID})

	_, err := f.svc.UpdateAuction(context.Background(), seeded.ID, alice.Email, UpdateAuctionInput{}, "/uploads/auctions/first.png")
	require.NoError(t, err)
	assert.Empty(t, f.images.removed)
}

func TestUpdateAuctionFailureKeepsOldImage(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	price := "12.345"
	_, err := f.svc.UpdateAuction(context.Background(), seeded.ID, alice.Email, UpdateAuctionInput{StartPrice: &price}, "/uploads/auctions/b.png")
	require.ErrorIs(t, err, ErrBadInput)
	assert.Empty(t, f.images.removed)
}

func TestUpdateAuctionKeepsImageWithoutUpload(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	description := "brass"
	updated, err := f.svc.UpdateAuction(context.Background(), seeded.ID, alice.Email, UpdateAuctionInput{Description: &description}, "")
	require.NoError(t, err)
	assert.Equal(t, seeded.ImageURL, updated.ImageURL)
	assert.Equal(t, "brass", updated.Description)
	assert.Empty(t, f.images.removed)
}

func TestUpdateAuctionRejectsNonOwner(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	title := "stolen"
	_, err := f.svc.UpdateAuction(context.Background(), seeded.ID, bob.Email, UpdateAuctionInput{Title: &title}, "")
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, "you can only update your own auctions", Message(err, ""))

	stored, err := f.auctions.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded, stored)
	assert.Empty(t, f.events.eventTypes())
}

func TestUpdateAuctionMissingIsNotAuthorized(t *testing.T) {
	f := newAuctionFixture(t)

	title := "x"
	_, err := f.svc.UpdateAuction(context.Background(), 42, alice.Email, UpdateAuctionInput{Title: &title}, "")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestUpdateAuctionRejectsBadPrice(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	price := "free"
	_, err := f.svc.UpdateAuction(context.Background(), seeded.ID, alice.Email, UpdateAuctionInput{StartPrice: &price}, "")
	require.ErrorIs(t, err, ErrBadInput)

	stored, _ := f.auctions.Get(context.Background(), seeded.ID)
	assert.Equal(t, seeded.StartPrice, stored.StartPrice)
}

func TestDeleteAuctionByOwner(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)
	other := f.auction(alice, "chair", time.Hour)
	f.bid(bob, seeded, 20, testNow.Add(-time.Minute))
	f.bid(bob, other, 20, testNow.Add(-time.Minute))

	deleted, err := f.svc.DeleteAuction(context.Background(), seeded.ID, alice.Email)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, deleted.ID)

	_, err = f.auctions.Get(context.Background(), seeded.ID)
	require.Error(t, err)

	remaining, err := f.bids.ListByAuctions(context.Background(), []int64{seeded.ID, other.ID})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].AuctionID)

	assert.Equal(t, []string{seeded.ImageURL}, f.images.removed)
	assert.Equal(t, []string{mq.EventAuctionDeleted}, f.events.eventTypes())
}

func TestDeleteAuctionSurvivesImageFailure(t *testing.T) {
	f := newAuctionFixture(t)
	f.images.err = errBoom
	seeded := f.auction(alice, "lamp", time.Hour)

	_, err := f.svc.DeleteAuction(context.Background(), seeded.ID, alice.Email)
	require.NoError(t, err)
	assert.Len(t, f.images.removed, 1)
}

func TestDeleteAuctionRejectsNonOwner(t *testing.T) {
	f := newAuctionFixture(t)
	seeded := f.auction(alice, "lamp", time.Hour)

	_, err := f.svc.DeleteAuction(context.Background(), seeded.ID, bob.Email)
	require.ErrorIs(t, err, ErrNotAuthorized)

	stored, err := f.auctions.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded, stored)
	assert.Empty(t, f.images.removed)

	_, err = f.svc.DeleteAuction(context.Background(), 999, alice.Email)
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAnnounceEndedPublishesResults(t *testing.T) {
	f := newAuctionFixture(t)

	sold := f.auction(alice, "sold", -time.Minute)
	f.auction(alice, "unsold", -2*time.Minute)
	f.auction(alice, "earlier", -time.Hour)
	f.auction(alice, "open", time.Minute)
	f.bid(bob, sold, 30, testNow.Add(-time.Hour))
	f.bid(carol, sold, 45, testNow.Add(-30*time.Minute))

	results, err := f.svc.AnnounceEnded(context.Background(), testNow.Add(-5*time.Minute), testNow)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "unsold", results[0].Auction.Title)
	assert.Nil(t, results[0].WinningBid)
	assert.Equal(t, "sold", results[1].Auction.Title)
	require.NotNil(t, results[1].WinningBid)
	assert.Equal(t, carol.ID, results[1].WinningBid.UserID)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, mq.EventAuctionEnded, f.events.events[1].Type)
	assert.Equal(t, carol.ID, f.events.events[1].WinnerID)
	require.NotNil(t, f.events.events[1].Amount)
	assert.Equal(t, 45.0, *f.events.events[1].Amount)
	assert.Empty(t, f.events.events[0].WinnerID)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newAuctionFixture(t)
	f.events.err = errBoom

	_, err := f.svc.CreateAuction(context.Background(), CreateAuctionInput{
		Title:      "Lamp",
		StartPrice: "1",
		EndTime:    testNow.Add(time.Hour),
	}, alice.Email, "")
	require.NoError(t, err)
}

func TestWinningBid(t *testing.T) {
	t0 := testNow
	tests := []struct {
		name   string
		bids   []types.Bid
		wantID int64
		wantOK bool
	}{
		{name: "no bids"},
		{
			name:   "single bid",
			bids:   []types.Bid{{ID: 1, Amount: 10, CreatedAt: t0}},
			wantID: 1,
			wantOK: true,
		},
		{
			name: "highest amount wins",
			bids: []types.Bid{
				{ID: 1, Amount: 10, CreatedAt: t0},
				{ID: 2, Amount: 30, CreatedAt: t0.Add(time.Second)},
				{ID: 3, Amount: 20, CreatedAt: t0.Add(2 * time.Second)},
			},
			wantID: 2,
			wantOK: true,
		},
		{
			name: "tie goes to earliest",
			bids: []types.Bid{
				{ID: 3, Amount: 150, CreatedAt: t0.Add(2 * time.Second)},
				{ID: 1, Amount: 100, CreatedAt: t0},
				{ID: 2, Amount: 150, CreatedAt: t0.Add(time.Second)},
			},
			wantID: 2,
			wantOK: true,
		},
		{
			name: "same instant goes to lowest id",
			bids: []types.Bid{
				{ID: 9, Amount: 50, CreatedAt: t0},
				{ID: 4, Amount: 50, CreatedAt: t0},
			},
			wantID: 4,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := WinningBid(tt.bids)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestParsePriceAcceptsCents(t *testing.T) {
	for raw, want := range map[string]float64{"0": 0, "10": 10, "10.5": 10.5, "19.99": 19.99, " 0.01 ": 0.01} {
		got, err := parsePrice(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
}
