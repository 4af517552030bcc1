package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bidhouse/apiserver/types"
	"github.com/google/uuid"
)

// AuctionOrder selects the ordering of List results.
type AuctionOrder int

const (
	OrderByID AuctionOrder = iota
	OrderByEndTimeAsc
	OrderByEndTimeDesc
)

// AuctionFilter narrows List. Zero-valued fields do not filter.
type AuctionFilter struct {
	// OwnerID keeps auctions created by this account.
	OwnerID string

	// BidderID keeps auctions that have at least one bid from this account.
	BidderID string

	// EndsAfter keeps auctions with end_time > EndsAfter.
	EndsAfter *time.Time

	// EndsBefore keeps auctions with end_time < EndsBefore.
	EndsBefore *time.Time

	// EndsAtOrBefore keeps auctions with end_time <= EndsAtOrBefore.
	EndsAtOrBefore *time.Time

	OrderBy AuctionOrder
	Limit   int
}

// matchesNothing reports whether an account filter can never match because
// the id is not a UUID. Postgres would reject it as invalid input.
func (f AuctionFilter) matchesNothing() bool {
	for _, id := range []string{f.OwnerID, f.BidderID} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return true
		}
	}
	return false
}

func (f AuctionFilter) build() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.OwnerID != "" {
		add("user_id = $%d", f.OwnerID)
	}
	if f.BidderID != "" {
		add("EXISTS (SELECT 1 FROM bids b WHERE b.auction_id = auctions.id AND b.user_id = $%d)", f.BidderID)
	}
	if f.EndsAfter != nil {
		add("end_time > $%d", *f.EndsAfter)
	}
	if f.EndsBefore != nil {
		add("end_time < $%d", *f.EndsBefore)
	}
	if f.EndsAtOrBefore != nil {
		add("end_time <= $%d", *f.EndsAtOrBefore)
	}

	var sb strings.Builder
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	switch f.OrderBy {
	case OrderByEndTimeAsc:
		sb.WriteString(" ORDER BY end_time ASC, id ASC")
	case OrderByEndTimeDesc:
		sb.WriteString(" ORDER BY end_time DESC, id DESC")
	default:
		sb.WriteString(" ORDER BY id ASC")
	}

	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

// AuctionRepository handles persistence for auctions.
type AuctionRepository struct {
	db *sql.DB
}

func NewAuctionRepository(db *sql.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

const selectAuctionColumns = `
		SELECT id, title, description, start_price, current_price, start_time, end_time, image_url, user_id, created_at, updated_at
		FROM auctions`

const returningAuctionColumns = `
		RETURNING id, title, description, start_price, current_price, start_time, end_time, image_url, user_id, created_at, updated_at`

func scanAuction(row rowScanner) (types.Auction, error) {
	var (
		auction      types.Auction
		currentPrice sql.NullFloat64
		startTime    sql.NullTime
	)
	err := row.Scan(
		&auction.ID,
		&auction.Title,
		&auction.Description,
		&auction.StartPrice,
		&currentPrice,
		&startTime,
		&auction.EndTime,
		&auction.ImageURL,
		&auction.UserID,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Auction{}, ErrNotFound
		}
		return types.Auction{}, err
	}
	if currentPrice.Valid {
		price := currentPrice.Float64
		auction.CurrentPrice = &price
	}
	if startTime.Valid {
		start := startTime.Time
		auction.StartTime = &start
	}
	return auction, nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func (r *AuctionRepository) Get(ctx context.Context, id int64) (types.Auction, error) {
	return scanAuction(r.db.QueryRowContext(ctx, selectAuctionColumns+` WHERE id = $1`, id))
}

// List returns the auctions matching filter in the requested order.
func (r *AuctionRepository) List(ctx context.Context, filter AuctionFilter) ([]types.Auction, error) {
	if filter.matchesNothing() {
		return []types.Auction{}, nil
	}
	clause, args := filter.build()
	rows, err := r.db.QueryContext(ctx, selectAuctionColumns+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	auctions := make([]types.Auction, 0)
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auctions, nil
}

func (r *AuctionRepository) Create(ctx context.Context, auction types.Auction) (types.Auction, error) {
	now := time.Now().UTC()

	const query = `
		INSERT INTO auctions (title, description, start_price, current_price, start_time, end_time, image_url, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)` + returningAuctionColumns
	return scanAuction(r.db.QueryRowContext(
		ctx,
		query,
		auction.Title,
		auction.Description,
		auction.StartPrice,
		nullableFloat(auction.CurrentPrice),
		nullableTime(auction.StartTime),
		auction.EndTime,
		auction.ImageURL,
		auction.UserID,
		now,
	))
}

// Update writes the editable auction fields. Owner and current price are
// left untouched.
func (r *AuctionRepository) Update(ctx context.Context, auction types.Auction) (types.Auction, error) {
	const query = `
		UPDATE auctions
		SET title = $1,
			description = $2,
			start_price = $3,
			start_time = $4,
			end_time = $5,
			image_url = $6,
			updated_at = $7
		WHERE id = $8` + returningAuctionColumns
	return scanAuction(r.db.QueryRowContext(
		ctx,
		query,
		auction.Title,
		auction.Description,
		auction.StartPrice,
		nullableTime(auction.StartTime),
		auction.EndTime,
		auction.ImageURL,
		time.Now().UTC(),
		auction.ID,
	))
}

// Delete removes the auction and returns the deleted record. Bids are
// removed by the foreign key cascade.
func (r *AuctionRepository) Delete(ctx context.Context, id int64) (types.Auction, error) {
	return scanAuction(r.db.QueryRowContext(ctx, `DELETE FROM auctions WHERE id = $1`+returningAuctionColumns, id))
}

// IsOwnedBy reports whether the auction exists and belongs to accountID.
func (r *AuctionRepository) IsOwnedBy(ctx context.Context, auctionID int64, accountID string) (bool, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return false, nil
	}
	const query = `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1 AND user_id = $2)`
	var owned bool
	if err := r.db.QueryRowContext(ctx, query, auctionID, accountID).Scan(&owned); err != nil {
		return false, err
	}
	return owned, nil
}
