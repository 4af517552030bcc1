package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bidhouse/apiserver/internal/mq"
	"github.com/bidhouse/apiserver/internal/storage"
	"github.com/bidhouse/apiserver/internal/store"
	"github.com/bidhouse/apiserver/types"
)

type fakeUsers struct {
	mu       sync.Mutex
	accounts map[string]types.Account
	failNext error
}

func newFakeUsers(accounts ...types.Account) *fakeUsers {
	f := &fakeUsers{accounts: make(map[string]types.Account)}
	for _, account := range accounts {
		f.accounts[account.ID] = account
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, account types.Account) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return types.Account{}, err
	}
	for _, existing := range f.accounts {
		if existing.Email == account.Email {
			return types.Account{}, store.ErrConflict
		}
	}
	if account.ID == "" {
		account.ID = "generated-" + account.Email
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	f.accounts[account.ID] = account
	return account, nil
}

func (f *fakeUsers) Update(_ context.Context, account types.Account) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[account.ID]; !ok {
		return types.Account{}, store.ErrNotFound
	}
	for id, existing := range f.accounts {
		if id != account.ID && existing.Email == account.Email {
			return types.Account{}, store.ErrConflict
		}
	}
	f.accounts[account.ID] = account
	return account, nil
}

func (f *fakeUsers) UpdateAvatarByEmail(_ context.Context, email, avatar string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, account := range f.accounts {
		if account.Email == email {
			account.Avatar = avatar
			f.accounts[id] = account
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.accounts, id)
	return nil
}

type fakeAuctions struct {
	mu       sync.Mutex
	nextID   int64
	auctions map[int64]types.Auction
	bids     *fakeBids
	failNext error
}

func newFakeAuctions(bids *fakeBids) *fakeAuctions {
	f := &fakeAuctions{auctions: make(map[int64]types.Auction), bids: bids}
	if bids != nil {
		bids.auctions = f
	}
	return f
}

func (f *fakeAuctions) seed(auction types.Auction) types.Auction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	auction.ID = f.nextID
	f.auctions[auction.ID] = auction
	return auction
}

func (f *fakeAuctions) Get(_ context.Context, id int64) (types.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	auction, ok := f.auctions[id]
	if !ok {
		return types.Auction{}, store.ErrNotFound
	}
	return auction, nil
}

func (f *fakeAuctions) List(_ context.Context, filter store.AuctionFilter) ([]types.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]types.Auction, 0)
	for _, auction := range f.auctions {
		if filter.OwnerID != "" && auction.UserID != filter.OwnerID {
			continue
		}
		if filter.BidderID != "" && (f.bids == nil || !f.bids.hasBid(filter.BidderID, auction.ID)) {
			continue
		}
		if filter.EndsAfter != nil && !auction.EndTime.After(*filter.EndsAfter) {
			continue
		}
		if filter.EndsBefore != nil && !auction.EndTime.Before(*filter.EndsBefore) {
			continue
		}
		if filter.EndsAtOrBefore != nil && auction.EndTime.After(*filter.EndsAtOrBefore) {
			continue
		}
		result = append(result, auction)
	}

	sort.Slice(result, func(i, j int) bool {
		switch filter.OrderBy {
		case store.OrderByEndTimeAsc:
			if !result[i].EndTime.Equal(result[j].EndTime) {
				return result[i].EndTime.Before(result[j].EndTime)
			}
		case store.OrderByEndTimeDesc:
			if !result[i].EndTime.Equal(result[j].EndTime) {
				return result[i].EndTime.After(result[j].EndTime)
			}
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (f *fakeAuctions) Create(_ context.Context, auction types.Auction) (types.Auction, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return types.Auction{}, err
	}
	return f.seed(auction), nil
}

func (f *fakeAuctions) Update(_ context.Context, auction types.Auction) (types.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.auctions[auction.ID]; !ok {
		return types.Auction{}, store.ErrNotFound
	}
	f.auctions[auction.ID] = auction
	return auction, nil
}

func (f *fakeAuctions) Delete(_ context.Context, id int64) (types.Auction, error) {
	f.mu.Lock()
	auction, ok := f.auctions[id]
	if !ok {
		f.mu.Unlock()
		return types.Auction{}, store.ErrNotFound
	}
	delete(f.auctions, id)
	f.mu.Unlock()

	if f.bids != nil {
		f.bids.deleteAuction(id)
	}
	return auction, nil
}

func (f *fakeAuctions) IsOwnedBy(_ context.Context, auctionID int64, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	auction, ok := f.auctions[auctionID]
	return ok && auction.UserID == accountID, nil
}

type fakeBids struct {
	mu       sync.Mutex
	nextID   int64
	bids     []types.Bid
	auctions *fakeAuctions
	stale    bool
}

func newFakeBids() *fakeBids {
	return &fakeBids{}
}

func (f *fakeBids) seed(bid types.Bid) types.Bid {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	bid.ID = f.nextID
	f.bids = append(f.bids, bid)
	return bid
}

func (f *fakeBids) hasBid(userID string, auctionID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bid := range f.bids {
		if bid.UserID == userID && bid.AuctionID == auctionID {
			return true
		}
	}
	return false
}

func (f *fakeBids) deleteAuction(auctionID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.bids[:0]
	for _, bid := range f.bids {
		if bid.AuctionID != auctionID {
			kept = append(kept, bid)
		}
	}
	f.bids = kept
}

func (f *fakeBids) Place(_ context.Context, bid types.Bid) (types.Bid, error) {
	if f.stale {
		return types.Bid{}, store.ErrStale
	}
	bid.CreatedAt = time.Now()
	placed := f.seed(bid)
	if f.auctions != nil {
		f.auctions.mu.Lock()
		auction := f.auctions.auctions[bid.AuctionID]
		amount := bid.Amount
		auction.CurrentPrice = &amount
		f.auctions.auctions[bid.AuctionID] = auction
		f.auctions.mu.Unlock()
	}
	return placed, nil
}

func (f *fakeBids) ListByAuctions(_ context.Context, auctionIDs []int64) ([]types.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[int64]bool, len(auctionIDs))
	for _, id := range auctionIDs {
		wanted[id] = true
	}
	result := make([]types.Bid, 0)
	for _, bid := range f.bids {
		if wanted[bid.AuctionID] {
			result = append(result, bid)
		}
	}
	return result, nil
}

func (f *fakeBids) AuctionIDsByUser(_ context.Context, userID string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[int64]bool)
	ids := make([]int64, 0)
	for _, bid := range f.bids {
		if bid.UserID == userID && !seen[bid.AuctionID] {
			seen[bid.AuctionID] = true
			ids = append(ids, bid.AuctionID)
		}
	}
	return ids, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []mq.Event
	err    error
}

func (f *fakeEvents) Publish(_ context.Context, event mq.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, event)
	return "id", nil
}

func (f *fakeEvents) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, event := range f.events {
		out = append(out, event.Type)
	}
	return out
}

type fakeObjectStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte), contentTypes: make(map[string]string)}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.contentTypes[key] = contentType
	return nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(f.objects, key)
	return nil
}

var errBoom = errors.New("boom")
