package handlers

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bidhouse/apiserver/internal/storage"
	"github.com/bidhouse/apiserver/internal/store"
	"github.com/bidhouse/apiserver/types"
)

type memUsers struct {
	mu        sync.Mutex
	accounts  map[string]types.Account
	avatarErr error
}

func (m *memUsers) GetByID(_ context.Context, id string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == account.Email {
			return types.Account{}, store.ErrConflict
		}
	}
	if account.ID == "" {
		account.ID = "id-" + account.Email
	}
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memUsers) Update(_ context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		return types.Account{}, store.ErrNotFound
	}
	m.accounts[account.ID] = account
	return account, nil
}

func (m *memUsers) UpdateAvatarByEmail(_ context.Context, email, avatar string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.avatarErr != nil {
		return m.avatarErr
	}
	for id, account := range m.accounts {
		if account.Email == email {
			account.Avatar = avatar
			m.accounts[id] = account
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

// memAuctions keeps auctions and their bids together.
type memAuctions struct {
	mu       sync.Mutex
	nextID   int64
	auctions map[int64]types.Auction
	bids     []types.Bid
}

func (m *memAuctions) Get(_ context.Context, id int64) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auction, ok := m.auctions[id]
	if !ok {
		return types.Auction{}, store.ErrNotFound
	}
	return auction, nil
}

func (m *memAuctions) List(_ context.Context, filter store.AuctionFilter) ([]types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]types.Auction, 0)
	for _, auction := range m.auctions {
		if filter.OwnerID != "" && auction.UserID != filter.OwnerID {
			continue
		}
		if filter.BidderID != "" && !m.hasBidLocked(filter.BidderID, auction.ID) {
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
		if filter.OrderBy == store.OrderByEndTimeAsc && !result[i].EndTime.Equal(result[j].EndTime) {
			return result[i].EndTime.Before(result[j].EndTime)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *memAuctions) Create(_ context.Context, auction types.Auction) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	auction.ID = m.nextID
	m.auctions[auction.ID] = auction
	return auction, nil
}

func (m *memAuctions) Update(_ context.Context, auction types.Auction) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auctions[auction.ID]; !ok {
		return types.Auction{}, store.ErrNotFound
	}
	m.auctions[auction.ID] = auction
	return auction, nil
}

func (m *memAuctions) Delete(_ context.Context, id int64) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auction, ok := m.auctions[id]
	if !ok {
		return types.Auction{}, store.ErrNotFound
	}
	delete(m.auctions, id)
	return auction, nil
}

func (m *memAuctions) IsOwnedBy(_ context.Context, auctionID int64, accountID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auction, ok := m.auctions[auctionID]
	return ok && auction.UserID == accountID, nil
}

func (m *memAuctions) Place(_ context.Context, bid types.Bid) (types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid.ID = int64(len(m.bids) + 1)
	bid.CreatedAt = time.Now()
	m.bids = append(m.bids, bid)
	auction := m.auctions[bid.AuctionID]
	amount := bid.Amount
	auction.CurrentPrice = &amount
	m.auctions[bid.AuctionID] = auction
	return bid, nil
}

func (m *memAuctions) ListByAuctions(_ context.Context, auctionIDs []int64) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]types.Bid, 0)
	for _, bid := range m.bids {
		for _, id := range auctionIDs {
			if bid.AuctionID == id {
				result = append(result, bid)
			}
		}
	}
	return result, nil
}

func (m *memAuctions) AuctionIDsByUser(_ context.Context, userID string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0)
	for _, bid := range m.bids {
		if bid.UserID == userID {
			ids = append(ids, bid.AuctionID)
		}
	}
	return ids, nil
}

func (m *memAuctions) hasBidLocked(userID string, auctionID int64) bool {
	for _, bid := range m.bids {
		if bid.UserID == userID && bid.AuctionID == auctionID {
			return true
		}
	}
	return false
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type memThrottle struct {
	mu       sync.Mutex
	max      int
	failures map[string]int
}

func (m *memThrottle) Blocked(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[email] >= m.max, nil
}

func (m *memThrottle) RecordFailure(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[email]++
	return nil
}

func (m *memThrottle) Reset(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, email)
	return nil
}
