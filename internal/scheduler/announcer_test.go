package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bidhouse/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct {
	from, to time.Time
}

type recordingAuctions struct {
	windows []window
	errs    []error
}

func (r *recordingAuctions) AnnounceEnded(_ context.Context, from, to time.Time) ([]types.AuctionResult, error) {
	r.windows = append(r.windows, window{from: from, to: to})
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []types.AuctionResult{{Auction: types.Auction{ID: 1}}}, nil
}

func newTestAnnouncer(auctions EndedAuctions, times ...time.Time) *Announcer {
	a := NewAnnouncer(auctions, "@every 1h", nil)
	a.now = func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}
	return a
}

func TestAnnouncerAdvancesWindow(t *testing.T) {
	t0 := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t2 := t1.Add(time.Minute)

	auctions := &recordingAuctions{}
	a := newTestAnnouncer(auctions, t0, t1, t2)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	a.run(context.Background())
	a.run(context.Background())

	assert.Equal(t, []window{{from: t0, to: t1}, {from: t1, to: t2}}, auctions.windows)
}

func TestAnnouncerRetriesWindowAfterFailure(t *testing.T) {
	t0 := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t2 := t1.Add(time.Minute)

	auctions := &recordingAuctions{errs: []error{errors.New("db down"), nil}}
	a := newTestAnnouncer(auctions, t0, t1, t2)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	a.run(context.Background())
	a.run(context.Background())

	assert.Equal(t, []window{{from: t0, to: t1}, {from: t0, to: t2}}, auctions.windows)
}

func TestAnnouncerSkipsAfterCancel(t *testing.T) {
	auctions := &recordingAuctions{}
	t0 := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	a := newTestAnnouncer(auctions, t0)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	defer a.Stop()
	cancel()

	a.run(ctx)
	assert.Empty(t, auctions.windows)
}

func TestAnnouncerRejectsBadSpec(t *testing.T) {
	a := NewAnnouncer(&recordingAuctions{}, "every minute please", nil)
	require.Error(t, a.Start(context.Background()))
}
