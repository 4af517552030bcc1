package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bidhouse/apiserver/internal/mq"
	"github.com/bidhouse/apiserver/internal/store"
	"github.com/bidhouse/apiserver/types"
	"go.uber.org/zap"
)

// AuctionRepository defines persistence operations for auctions.
type AuctionRepository interface {
	Get(ctx context.Context, id int64) (types.Auction, error)
	List(ctx context.Context, filter store.AuctionFilter) ([]types.Auction, error)
	Create(ctx context.Context, auction types.Auction) (types.Auction, error)
	Update(ctx context.Context, auction types.Auction) (types.Auction, error)
	Delete(ctx context.Context, id int64) (types.Auction, error)
	IsOwnedBy(ctx context.Context, auctionID int64, accountID string) (bool, error)
}

// BidRepository defines persistence operations for bids.
type BidRepository interface {
	Place(ctx context.Context, bid types.Bid) (types.Bid, error)
	ListByAuctions(ctx context.Context, auctionIDs []int64) ([]types.Bid, error)
	AuctionIDsByUser(ctx context.Context, userID string) ([]int64, error)
}

// ImageRemover deletes stored images by public path.
type ImageRemover interface {
	Remove(ctx context.Context, publicPath string) error
}

// CreateAuctionInput is the payload for a new auction. StartPrice arrives
// as text (multipart form field) and is parsed here.
type CreateAuctionInput struct {
	Title       string
	Description string
	StartPrice  string
	StartTime   *time.Time
	EndTime     time.Time
}

// UpdateAuctionInput patches an auction. Nil fields are left as they are.
type UpdateAuctionInput struct {
	Title       *string
	Description *string
	StartPrice  *string
	StartTime   *time.Time
	EndTime     *time.Time
}

// AuctionService answers lifecycle and ownership questions about auctions.
type AuctionService struct {
	auctions AuctionRepository
	bids     BidRepository
	users    UserRepository
	images   ImageRemover
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuctionService(
	auctions AuctionRepository,
	bids BidRepository,
	users UserRepository,
	images ImageRemover,
	events EventPublisher,
	logger *zap.Logger,
) *AuctionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuctionService{
		auctions: auctions,
		bids:     bids,
		users:    users,
		images:   images,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AuctionService) CreateAuction(ctx context.Context, input CreateAuctionInput, ownerEmail, imagePath string) (types.Auction, error) {
	owner, err := s.requester(ctx, ownerEmail)
	if err != nil {
		return types.Auction{}, err
	}

	startPrice, err := parsePrice(input.StartPrice)
	if err != nil {
		return types.Auction{}, err
	}

	created, err := s.auctions.Create(ctx, types.Auction{
		Title:       input.Title,
		Description: input.Description,
		StartPrice:  startPrice,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		ImageURL:    imagePath,
		UserID:      owner.ID,
	})
	if err != nil {
		s.logger.Error("create auction failed", zap.String("user_id", owner.ID), zap.Error(err))
		return types.Auction{}, newError(ErrBadInput, "something went wrong while creating a new auction")
	}

	s.logger.Info("auction created", zap.Int64("auction_id", created.ID), zap.String("user_id", owner.ID))
	publish(ctx, s.events, s.logger, mq.Event{Type: mq.EventAuctionCreated, AuctionID: created.ID, UserID: owner.ID})
	return created, nil
}

// UpdateAuction applies patch to an auction owned by requesterEmail. A
// non-empty imagePath replaces the image reference.
func (s *AuctionService) UpdateAuction(ctx context.Context, auctionID int64, requesterEmail string, patch UpdateAuctionInput, imagePath string) (types.Auction, error) {
	requester, err := s.authorizeOwner(ctx, requesterEmail, auctionID, "you can only update your own auctions")
	if err != nil {
		return types.Auction{}, err
	}

	auction, err := s.auctions.Get(ctx, auctionID)
	if err != nil {
		return types.Auction{}, s.auctionLookupError(err, auctionID)
	}

	if patch.Title != nil {
		auction.Title = *patch.Title
	}
	if patch.Description != nil {
		auction.Description = *patch.Description
	}
	if patch.StartPrice != nil {
		price, err := parsePrice(*patch.StartPrice)
		if err != nil {
			return types.Auction{}, err
		}
		auction.StartPrice = price
	}
	if patch.StartTime != nil {
		auction.StartTime = patch.StartTime
	}
	if patch.EndTime != nil {
		auction.EndTime = *patch.EndTime
	}
	previousImage := auction.ImageURL
	if imagePath != "" {
		auction.ImageURL = imagePath
	}

	updated, err := s.auctions.Update(ctx, auction)
	if err != nil {
		return types.Auction{}, s.auctionLookupError(err, auctionID)
	}
	if imagePath != "" && previousImage != imagePath {
		s.removeImage(ctx, auctionID, previousImage)
	}

	publish(ctx, s.events, s.logger, mq.Event{Type: mq.EventAuctionUpdated, AuctionID: updated.ID, UserID: requester.ID})
	return updated, nil
}

// DeleteAuction removes an auction owned by requesterEmail together with
// its bids and its stored image.
func (s *AuctionService) DeleteAuction(ctx context.Context, auctionID int64, requesterEmail string) (types.Auction, error) {
	requester, err := s.authorizeOwner(ctx, requesterEmail, auctionID, "you can only delete your own auctions")
	if err != nil {
		return types.Auction{}, err
	}

	deleted, err := s.auctions.Delete(ctx, auctionID)
	if err != nil {
		return types.Auction{}, s.auctionLookupError(err, auctionID)
	}

	s.removeImage(ctx, auctionID, deleted.ImageURL)

	s.logger.Info("auction deleted", zap.Int64("auction_id", auctionID), zap.String("user_id", requester.ID))
	publish(ctx, s.events, s.logger, mq.Event{Type: mq.EventAuctionDeleted, AuctionID: auctionID, UserID: requester.ID})
	return deleted, nil
}

// FindAllAuctionsByUser returns every auction owned by ownerID regardless
// of lifecycle state.
func (s *AuctionService) FindAllAuctionsByUser(ctx context.Context, ownerID string) ([]types.Auction, error) {
	return s.auctions.List(ctx, store.AuctionFilter{OwnerID: ownerID, OrderBy: store.OrderByID})
}

// FindAllAuctions returns the active auctions, soonest ending first, each
// flagged with whether the requester has bid on it.
func (s *AuctionService) FindAllAuctions(ctx context.Context, requesterEmail string) ([]types.AuctionWithUserBid, error) {
	requester, err := s.requester(ctx, requesterEmail)
	if err != nil {
		return nil, err
	}

	now := s.now()
	auctions, err := s.auctions.List(ctx, store.AuctionFilter{EndsAfter: &now, OrderBy: store.OrderByEndTimeAsc})
	if err != nil {
		return nil, err
	}

	bidAuctionIDs, err := s.bids.AuctionIDsByUser(ctx, requester.ID)
	if err != nil {
		return nil, err
	}
	hasBid := make(map[int64]struct{}, len(bidAuctionIDs))
	for _, id := range bidAuctionIDs {
		hasBid[id] = struct{}{}
	}

	result := make([]types.AuctionWithUserBid, 0, len(auctions))
	for _, auction := range auctions {
		_, ok := hasBid[auction.ID]
		result = append(result, types.AuctionWithUserBid{Auction: auction, UserHasBid: ok})
	}
	return result, nil
}

func (s *AuctionService) FindAuctionByID(ctx context.Context, auctionID int64) (types.Auction, error) {
	auction, err := s.auctions.Get(ctx, auctionID)
	if err != nil {
		return types.Auction{}, s.auctionLookupError(err, auctionID)
	}
	return auction, nil
}

// FindAuctionsCreatedByUser returns the owner's active auctions followed by
// the expired ones. Each group is ordered by end time on its own.
func (s *AuctionService) FindAuctionsCreatedByUser(ctx context.Context, ownerEmail string) ([]types.Auction, error) {
	owner, err := s.requester(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}

	now := s.now()
	active, err := s.auctions.List(ctx, store.AuctionFilter{
		OwnerID:   owner.ID,
		EndsAfter: &now,
		OrderBy:   store.OrderByEndTimeAsc,
	})
	if err != nil {
		return nil, err
	}
	expired, err := s.auctions.List(ctx, store.AuctionFilter{
		OwnerID:        owner.ID,
		EndsAtOrBefore: &now,
		OrderBy:        store.OrderByEndTimeAsc,
	})
	if err != nil {
		return nil, err
	}

	return append(active, expired...), nil
}

// FindBiddingAuctionsByUser returns the active auctions the bidder has bid on.
func (s *AuctionService) FindBiddingAuctionsByUser(ctx context.Context, bidderEmail string) ([]types.Auction, error) {
	bidder, err := s.requester(ctx, bidderEmail)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return s.auctions.List(ctx, store.AuctionFilter{
		BidderID:  bidder.ID,
		EndsAfter: &now,
		OrderBy:   store.OrderByEndTimeAsc,
	})
}

// FindWonAuctionsByUser returns the ended auctions whose winning bid
// belongs to the bidder.
func (s *AuctionService) FindWonAuctionsByUser(ctx context.Context, bidderEmail string) ([]types.Auction, error) {
	bidder, err := s.requester(ctx, bidderEmail)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ended, err := s.auctions.List(ctx, store.AuctionFilter{
		BidderID:   bidder.ID,
		EndsBefore: &now,
		OrderBy:    store.OrderByEndTimeAsc,
	})
	if err != nil {
		return nil, err
	}

	results, err := s.results(ctx, ended)
	if err != nil {
		return nil, err
	}

	won := make([]types.Auction, 0)
	for _, result := range results {
		if result.WinningBid != nil && result.WinningBid.UserID == bidder.ID {
			won = append(won, result.Auction)
		}
	}
	return won, nil
}

// AnnounceEnded publishes an auction.ended event for every auction whose end
// time falls in (from, to] and returns the results it announced.
func (s *AuctionService) AnnounceEnded(ctx context.Context, from, to time.Time) ([]types.AuctionResult, error) {
	ended, err := s.auctions.List(ctx, store.AuctionFilter{
		EndsAfter:      &from,
		EndsAtOrBefore: &to,
		OrderBy:        store.OrderByEndTimeAsc,
	})
	if err != nil {
		return nil, err
	}

	results, err := s.results(ctx, ended)
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		event := mq.Event{
			Type:       mq.EventAuctionEnded,
			AuctionID:  result.Auction.ID,
			UserID:     result.Auction.UserID,
			OccurredAt: result.Auction.EndTime,
		}
		if result.WinningBid != nil {
			amount := result.WinningBid.Amount
			event.WinnerID = result.WinningBid.UserID
			event.Amount = &amount
		}
		publish(ctx, s.events, s.logger, event)
	}
	return results, nil
}

// results pairs each auction with its winning bid.
func (s *AuctionService) results(ctx context.Context, auctions []types.Auction) ([]types.AuctionResult, error) {
	if len(auctions) == 0 {
		return []types.AuctionResult{}, nil
	}

	ids := make([]int64, 0, len(auctions))
	for _, auction := range auctions {
		ids = append(ids, auction.ID)
	}
	bids, err := s.bids.ListByAuctions(ctx, ids)
	if err != nil {
		return nil, err
	}

	byAuction := make(map[int64][]types.Bid, len(auctions))
	for _, bid := range bids {
		byAuction[bid.AuctionID] = append(byAuction[bid.AuctionID], bid)
	}

	results := make([]types.AuctionResult, 0, len(auctions))
	for _, auction := range auctions {
		result := types.AuctionResult{Auction: auction}
		if winner, ok := WinningBid(byAuction[auction.ID]); ok {
			result.WinningBid = &winner
		}
		results = append(results, result)
	}
	return results, nil
}

// accountOwns reports whether accountID owns auctionID. A missing auction
// is owned by nobody.
func (s *AuctionService) accountOwns(ctx context.Context, accountID string, auctionID int64) (bool, error) {
	return s.auctions.IsOwnedBy(ctx, auctionID, accountID)
}

func (s *AuctionService) authorizeOwner(ctx context.Context, email string, auctionID int64, denied string) (types.Account, error) {
	requester, err := s.requester(ctx, email)
	if err != nil {
		return types.Account{}, err
	}
	owned, err := s.accountOwns(ctx, requester.ID, auctionID)
	if err != nil {
		return types.Account{}, err
	}
	if !owned {
		return types.Account{}, newError(ErrNotAuthorized, "%s", denied)
	}
	return requester, nil
}

// requester resolves the authenticated email to its account.
func (s *AuctionService) requester(ctx context.Context, email string) (types.Account, error) {
	return resolveAccount(ctx, s.users, email)
}

// removeImage deletes a stored image that no auction references any more.
// Failures are logged only.
func (s *AuctionService) removeImage(ctx context.Context, auctionID int64, imagePath string) {
	if imagePath == "" || s.images == nil {
		return
	}
	if err := s.images.Remove(ctx, imagePath); err != nil {
		s.logger.Warn("remove auction image failed", zap.Int64("auction_id", auctionID), zap.String("image", imagePath), zap.Error(err))
	}
}

func (s *AuctionService) auctionLookupError(err error, auctionID int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(ErrNotFound, "auction with ID %d not found", auctionID)
	}
	return err
}

func resolveAccount(ctx context.Context, users UserRepository, email string) (types.Account, error) {
	account, err := users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, newError(ErrNotAuthorized, "user not found")
		}
		return types.Account{}, err
	}
	return account, nil
}

// maxPrice is the largest value a NUMERIC(14,2) column holds.
const maxPrice = 999_999_999_999.99

func parsePrice(raw string) (float64, error) {
	price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, newError(ErrBadInput, "start price must be a non-negative number")
	}
	if !wholeCents(price) {
		return 0, newError(ErrBadInput, "start price cannot have more than two decimal places")
	}
	return price, nil
}

// wholeCents reports whether v fits the price columns without rounding:
// at most two decimal places and within NUMERIC(14,2).
func wholeCents(v float64) bool {
	if v > maxPrice {
		return false
	}
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}

// outranks reports whether a beats b for the win: higher amount first, then
// the earlier bid, then the lower id.
func outranks(a, b types.Bid) bool {
	if a.Amount != b.Amount {
		return a.Amount > b.Amount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// WinningBid returns the highest bid; ties go to the earliest bid. The
// second result is false when bids is empty.
func WinningBid(bids []types.Bid) (types.Bid, bool) {
	if len(bids) == 0 {
		return types.Bid{}, false
	}
	best := bids[0]
	for _, bid := range bids[1:] {
		if outranks(bid, best) {
			best = bid
		}
	}
	return best, true
}
