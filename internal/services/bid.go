package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/bidhouse/apiserver/internal/mq"
	"github.com/bidhouse/apiserver/internal/store"
	"github.com/bidhouse/apiserver/types"
	"go.uber.org/zap"
)

// BidService places and lists bids.
type BidService struct {
	auctions AuctionRepository
	bids     BidRepository
	users    UserRepository
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewBidService(
	auctions AuctionRepository,
	bids BidRepository,
	users UserRepository,
	events EventPublisher,
	logger *zap.Logger,
) *BidService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BidService{
		auctions: auctions,
		bids:     bids,
		users:    users,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// PlaceBid records amount on the auction for the bidder. The bid must reach
// the start price and beat the current price while the auction is open.
func (s *BidService) PlaceBid(ctx context.Context, auctionID int64, bidderEmail string, amount float64) (types.Bid, error) {
	bidder, err := resolveAccount(ctx, s.users, bidderEmail)
	if err != nil {
		return types.Bid{}, err
	}

	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return types.Bid{}, newError(ErrBadInput, "bid amount must be a positive number")
	}
	if !wholeCents(amount) {
		return types.Bid{}, newError(ErrBadInput, "bid amount cannot have more than two decimal places")
	}

	auction, err := s.auctions.Get(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Bid{}, newError(ErrNotFound, "auction with ID %d not found", auctionID)
		}
		return types.Bid{}, err
	}

	now := s.now()
	switch {
	case auction.UserID == bidder.ID:
		return types.Bid{}, newError(ErrNotAuthorized, "you cannot bid on your own auction")
	case !auction.IsActive(now):
		return types.Bid{}, newError(ErrBadInput, "auction has ended")
	case auction.StartTime != nil && now.Before(*auction.StartTime):
		return types.Bid{}, newError(ErrBadInput, "auction has not started yet")
	case amount < auction.StartPrice:
		return types.Bid{}, newError(ErrBadInput, "bid must be at least the starting price")
	case auction.CurrentPrice != nil && amount <= *auction.CurrentPrice:
		return types.Bid{}, newError(ErrBadInput, "bid must be higher than the current price")
	}

	bid, err := s.bids.Place(ctx, types.Bid{Amount: amount, UserID: bidder.ID, AuctionID: auctionID})
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return types.Bid{}, newError(ErrBadInput, "bid is no longer the highest")
		}
		return types.Bid{}, err
	}

	s.logger.Info("bid placed",
		zap.Int64("auction_id", auctionID),
		zap.String("user_id", bidder.ID),
		zap.Float64("amount", amount),
	)
	publish(ctx, s.events, s.logger, mq.Event{
		Type:       mq.EventBidPlaced,
		AuctionID:  auctionID,
		UserID:     bidder.ID,
		Amount:     &bid.Amount,
		OccurredAt: bid.CreatedAt,
	})
	return bid, nil
}

// ListBids returns the bids on an auction in winning order.
func (s *BidService) ListBids(ctx context.Context, auctionID int64) ([]types.Bid, error) {
	if _, err := s.auctions.Get(ctx, auctionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrNotFound, "auction with ID %d not found", auctionID)
		}
		return nil, err
	}

	bids, err := s.bids.ListByAuctions(ctx, []int64{auctionID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return outranks(bids[i], bids[j])
	})
	return bids, nil
}
