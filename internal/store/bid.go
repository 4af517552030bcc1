package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bidhouse/apiserver/types"
	"github.com/lib/pq"
)

// BidRepository handles persistence for bids.
type BidRepository struct {
	db *sql.DB
}

func NewBidRepository(db *sql.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Place records the bid and raises the auction's current price in one
// transaction. The price bump only applies while the auction is open, the
// amount reaches the start price and exceeds the current price; otherwise
// nothing is written and ErrStale is returned.
func (r *BidRepository) Place(ctx context.Context, bid types.Bid) (types.Bid, error) {
	bid.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Bid{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const bump = `
		UPDATE auctions
		SET current_price = $1::numeric(14,2),
			updated_at = $2
		WHERE id = $3
			AND end_time > $2
			AND start_price <= $1::numeric(14,2)
			AND (current_price IS NULL OR current_price < $1::numeric(14,2))`
	result, err := tx.ExecContext(ctx, bump, bid.Amount, bid.CreatedAt, bid.AuctionID)
	if err != nil {
		return types.Bid{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Bid{}, err
	}
	if affected == 0 {
		return types.Bid{}, ErrStale
	}

	const insert = `
		INSERT INTO bids (amount, user_id, auction_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, insert, bid.Amount, bid.UserID, bid.AuctionID, bid.CreatedAt).Scan(&bid.ID); err != nil {
		return types.Bid{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Bid{}, err
	}
	return bid, nil
}

// ListByAuctions returns every bid on the given auctions, highest amount
// first, then earliest first.
func (r *BidRepository) ListByAuctions(ctx context.Context, auctionIDs []int64) ([]types.Bid, error) {
	if len(auctionIDs) == 0 {
		return []types.Bid{}, nil
	}

	const query = `
		SELECT id, amount, user_id, auction_id, created_at
		FROM bids
		WHERE auction_id = ANY($1)
		ORDER BY auction_id, amount DESC, created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(auctionIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bids := make([]types.Bid, 0)
	for rows.Next() {
		var bid types.Bid
		if err := rows.Scan(&bid.ID, &bid.Amount, &bid.UserID, &bid.AuctionID, &bid.CreatedAt); err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}

// AuctionIDsByUser returns the distinct auctions userID has bid on.
func (r *BidRepository) AuctionIDsByUser(ctx context.Context, userID string) ([]int64, error) {
	const query = `SELECT DISTINCT auction_id FROM bids WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
