package types

import "time"

// Auction represents an item put up for bidding by its owner.
type Auction struct {
	// ID is the unique identifier of the auction.
	ID int64 `json:"id" db:"id"`

	// Title is the short headline shown in listings.
	Title string `json:"title" db:"title"`

	// Description is the free-form item description.
	Description string `json:"description" db:"description"`

	// StartPrice is the minimum amount the first bid must reach.
	StartPrice float64 `json:"start_price" db:"start_price"`

	// CurrentPrice is the highest bid amount so far. It is nil until the
	// first bid is placed.
	CurrentPrice *float64 `json:"current_price" db:"current_price"`

	// StartTime is the optional moment bidding opens.
	StartTime *time.Time `json:"start_time" db:"start_time"`

	// EndTime decides the lifecycle state: the auction is active while
	// EndTime is after the current time, and expired afterwards.
	EndTime time.Time `json:"end_time" db:"end_time"`

	// ImageURL is the public path of the uploaded auction image, if any.
	ImageURL string `json:"image_url" db:"image_url"`

	// UserID is the id of the owning account.
	UserID string `json:"user_id" db:"user_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the auction is still open at now.
func (a Auction) IsActive(now time.Time) bool {
	return a.EndTime.After(now)
}

// Bid is an offer placed by an account on an auction.
type Bid struct {
	ID        int64     `json:"id" db:"id"`
	Amount    float64   `json:"amount" db:"amount"`
	UserID    string    `json:"user_id" db:"user_id"`
	AuctionID int64     `json:"auction_id" db:"auction_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuctionWithUserBid annotates an auction with whether the requesting
// account has bid on it. The flag is computed per query and never stored.
type AuctionWithUserBid struct {
	Auction
	UserHasBid bool `json:"user_has_bid"`
}

// AuctionResult is the outcome of an ended auction. WinningBid is nil when
// nobody bid.
type AuctionResult struct {
	Auction    Auction `json:"auction"`
	WinningBid *Bid    `json:"winning_bid"`
}
