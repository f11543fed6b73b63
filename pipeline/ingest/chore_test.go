// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cercinaai/Xtracto-io/internal/testcontext"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
	"github.com/cercinaai/Xtracto-io/pipeline/teststore"
)

// pagesFetcher serves a scripted sequence of search pages.
type pagesFetcher struct {
	pages    [][]fetcher.RawListing
	walks    int
	blockers int
}

func (f *pagesFetcher) ListingPages(ctx context.Context, filters fetcher.Filters, pageLimit int, fn func(ctx context.Context, page int, ads []fetcher.RawListing) (bool, error)) error {
	f.walks++
	if f.blockers > 0 {
		f.blockers--
		return fetcher.ErrBlocked.New("challenge")
	}
	for i, ads := range f.pages {
		if i >= pageLimit {
			return nil
		}
		stop, err := fn(ctx, i+1, ads)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

func (f *pagesFetcher) ListingDetail(ctx context.Context, url string) (*fetcher.ListingDetail, error) {
	return nil, fetcher.ErrTransient.New("not scripted")
}

func (f *pagesFetcher) AgencyDetail(ctx context.Context, url string) (*fetcher.AgencyDetail, error) {
	return nil, fetcher.ErrTransient.New("not scripted")
}

func price(v float64) *float64 { return &v }

func ad(idSec, title string, p float64, storeID, storeName string) fetcher.RawListing {
	return fetcher.RawListing{
		IDSec:     idSec,
		Title:     title,
		Price:     price(p),
		URL:       "https://source/ad/" + idSec,
		Images:    []string{"https://img/" + idSec + "/0.jpg"},
		StoreID:   storeID,
		StoreName: storeName,
	}
}

func TestRunBulk(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	f := &pagesFetcher{pages: [][]fetcher.RawListing{
		{
			ad("a1", "T2 Lyon", 850, "100", "Agence Azur"),
			ad("b1", "T3 Paris", 1200, "5608823", "Blocked SARL"),
			ad("c1", "Studio Nice", 600, "", ""),
		},
		{
			// the stream may repeat listings across pages
			ad("a1", "T2 Lyon", 850, "100", "Agence Azur"),
		},
	}}

	chore := NewChore(zaptest.NewLogger(t), db, f, listing.DefaultBlacklist(), Config{})
	require.NoError(t, chore.RunBulk(ctx))

	raw := db.Raw()
	require.Len(t, raw, 2)
	ids := []string{raw[0].IDSec, raw[1].IDSec}
	require.ElementsMatch(t, []string{"a1", "c1"}, ids)

	// a listing with its agency on the page goes straight to withAgency
	withAgency := db.WithAgency()
	require.Len(t, withAgency, 1)
	require.Equal(t, "a1", withAgency[0].IDSec)
	require.NotNil(t, withAgency[0].IDAgence)
	require.False(t, withAgency[0].Processed)

	brute := db.Brute()
	require.Len(t, brute, 1)
	require.Equal(t, "100", brute[0].StoreID)
	require.Equal(t, "Agence Azur", brute[0].Name)
	require.Equal(t, brute[0].ID.Hex(), *withAgency[0].IDAgence)

	// the raw row itself records the resolved agency id
	for _, r := range raw {
		if r.IDSec == "a1" {
			require.NotNil(t, r.IDAgence)
			require.Equal(t, brute[0].ID.Hex(), *r.IDAgence)
		}
	}
}

func TestLoopPass_StopsAfterTwoKnown(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	chore := NewChore(zaptest.NewLogger(t), db, nil, listing.DefaultBlacklist(), Config{})

	// seed two already-known listings
	for _, known := range []fetcher.RawListing{
		ad("k1", "T1", 500, "", ""),
		ad("k2", "T4", 1500, "", ""),
	} {
		l := normalize(known, time.Now())
		_, err := db.CreateRaw(ctx, &l)
		require.NoError(t, err)
	}

	chore.fetcher = &pagesFetcher{pages: [][]fetcher.RawListing{
		{
			ad("n1", "T2", 700, "", ""),
			ad("k1", "T1", 500, "", ""),
			ad("k2", "T4", 1500, "", ""),
			ad("n2", "T5", 2000, "", ""),
		},
	}}

	require.NoError(t, chore.loopPass(ctx))

	// n1 landed, the pass stopped before reaching n2
	has, err := db.RawContainsTriple(ctx, "n1", "T2", price(700))
	require.NoError(t, err)
	require.True(t, has)

	has, err = db.RawContainsTriple(ctx, "n2", "T5", price(2000))
	require.NoError(t, err)
	require.False(t, has)
}

func TestLoopPass_KnownRunAcrossPagesContinues(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	chore := NewChore(zaptest.NewLogger(t), db, nil, listing.DefaultBlacklist(), Config{})

	for _, known := range []fetcher.RawListing{
		ad("k1", "T1", 500, "", ""),
		ad("k2", "T4", 1500, "", ""),
	} {
		l := normalize(known, time.Now())
		_, err := db.CreateRaw(ctx, &l)
		require.NoError(t, err)
	}

	// one known listing at the tail of a page plus one at the head of
	// the next is not a run: the counter starts over on every page
	chore.fetcher = &pagesFetcher{pages: [][]fetcher.RawListing{
		{
			ad("n1", "T2", 700, "", ""),
			ad("k1", "T1", 500, "", ""),
		},
		{
			ad("k2", "T4", 1500, "", ""),
			ad("n2", "T5", 2000, "", ""),
		},
	}}

	require.NoError(t, chore.loopPass(ctx))

	has, err := db.RawContainsTriple(ctx, "n1", "T2", price(700))
	require.NoError(t, err)
	require.True(t, has)

	has, err = db.RawContainsTriple(ctx, "n2", "T5", price(2000))
	require.NoError(t, err)
	require.True(t, has, "the pass must reach past the page boundary")
}

func TestLoopPass_PriceChangeIsNew(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	chore := NewChore(zaptest.NewLogger(t), db, nil, listing.DefaultBlacklist(), Config{})

	seed := normalize(ad("k1", "T1", 500, "", ""), time.Now())
	_, err := db.CreateRaw(ctx, &seed)
	require.NoError(t, err)

	// same idSec, new price: the triple key does not match, so the
	// listing is not "known" and does not advance the stop counter
	chore.fetcher = &pagesFetcher{pages: [][]fetcher.RawListing{
		{ad("k1", "T1", 480, "", "")},
	}}
	require.NoError(t, chore.loopPass(ctx))

	has, err := db.RawContainsTriple(ctx, "k1", "T1", price(480))
	require.NoError(t, err)
	require.False(t, has, "raw dedups on idSec, the reprice stays out")
}

func TestRunLoop_RecoversFromBlock(t *testing.T) {
	t.Parallel()
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := teststore.New()
	f := &pagesFetcher{
		blockers: 1,
		pages:    [][]fetcher.RawListing{{ad("n1", "T2", 700, "", "")}},
	}
	chore := NewChore(zaptest.NewLogger(t), db, f, listing.DefaultBlacklist(), Config{
		LoopPauseLow:  time.Millisecond,
		LoopPauseHigh: 2 * time.Millisecond,
		BlockWait:     time.Millisecond,
	})

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			has, err := db.RawContainsTriple(loopCtx, "n1", "T2", price(700))
			if err != nil || has {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, chore.RunLoop(loopCtx))
	require.GreaterOrEqual(t, f.walks, 2, "the blocked walk must be retried")
}
