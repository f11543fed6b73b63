// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package ingest pulls listings off the source's search pages into the
// raw collection. The bulk crawl walks up to a hundred pages once; the
// loop crawl revisits the freshest pages until it runs into listings it
// already knows.
package ingest

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

var (
	// Error is the default error class for the ingest package.
	Error = errs.Class("ingest")
	mon   = monkit.Package()
)

// DB is the part of the store the ingester needs.
type DB interface {
	CreateRaw(ctx context.Context, l *listing.Listing) (created bool, err error)
	RawContainsTriple(ctx context.Context, idSec, title string, price *float64) (bool, error)
	EnsureAgencyBrute(ctx context.Context, a *listing.Agency) (primitive.ObjectID, error)
	CreateWithAgency(ctx context.Context, l *listing.Listing) (created bool, err error)
}

// Config contains configurable values for the ingester.
type Config struct {
	PageLimit     int           `help:"pages the bulk crawl walks" default:"100"`
	LoopPages     int           `help:"pages the loop crawl revisits per pass" default:"3"`
	LoopPauseLow  time.Duration `help:"minimum pause between loop passes" default:"2m"`
	LoopPauseHigh time.Duration `help:"maximum pause between loop passes" default:"5m"`
	BlockWait     time.Duration `help:"pause before restarting after an anti-bot block" default:"10s"`
}

// Chore ingests listings. RunBulk and RunLoop are the entry points the
// supervisor launches as the first_scraper and loop_scraper stages.
//
// architecture: Chore
type Chore struct {
	log       *zap.Logger
	db        DB
	fetcher   fetcher.Fetcher
	blacklist listing.Blacklist
	config    Config

	nowFn func() time.Time
}

// NewChore wires the ingester.
func NewChore(log *zap.Logger, db DB, f fetcher.Fetcher, blacklist listing.Blacklist, config Config) *Chore {
	if config.PageLimit <= 0 || config.PageLimit > 100 {
		config.PageLimit = 100
	}
	if config.LoopPages <= 0 {
		config.LoopPages = 3
	}
	if config.LoopPauseLow <= 0 {
		config.LoopPauseLow = 2 * time.Minute
	}
	if config.LoopPauseHigh < config.LoopPauseLow {
		config.LoopPauseHigh = config.LoopPauseLow + 3*time.Minute
	}
	if config.BlockWait <= 0 {
		config.BlockWait = 10 * time.Second
	}
	return &Chore{
		log:       log,
		db:        db,
		fetcher:   f,
		blacklist: blacklist,
		config:    config,
		nowFn:     time.Now,
	}
}

// RunBulk walks the search pages once, front to back, ingesting every
// listing it sees. Per-listing failures are logged and skipped; the
// walk only fails on store or fetch errors.
func (chore *Chore) RunBulk(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ingested := 0
	err = chore.fetcher.ListingPages(ctx, fetcher.Filters{}, chore.config.PageLimit,
		func(ctx context.Context, page int, ads []fetcher.RawListing) (bool, error) {
			for i := range ads {
				created, err := chore.ingest(ctx, ads[i])
				if err != nil {
					return false, err
				}
				if created {
					ingested++
				}
			}
			chore.log.Debug("page ingested", zap.Int("page", page), zap.Int("ads", len(ads)))
			return false, nil
		})
	if err != nil {
		return Error.Wrap(err)
	}
	chore.log.Info("bulk crawl finished", zap.Int("new listings", ingested))
	return nil
}

// RunLoop revisits the freshest search pages until canceled. A pass
// ends early once two consecutive listings are already known under
// their (idSec, title, price) identity; passes are separated by a
// randomised pause. An anti-bot block tears the session down, waits
// and restarts.
func (chore *Chore) RunLoop(ctx context.Context) error {
	for {
		err := chore.loopPass(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case fetcher.ErrBlocked.Has(err):
			chore.log.Warn("anti-bot block, backing off", zap.Error(err))
			if !sync2.Sleep(ctx, chore.config.BlockWait) {
				return nil
			}
			continue
		case err != nil:
			chore.log.Error("loop pass failed", zap.Error(err))
		}
		if !sync2.SleepBetween(ctx, chore.config.LoopPauseLow, chore.config.LoopPauseHigh) {
			return nil
		}
	}
}

func (chore *Chore) loopPass(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = chore.fetcher.ListingPages(ctx, fetcher.Filters{}, chore.config.LoopPages,
		func(ctx context.Context, page int, ads []fetcher.RawListing) (bool, error) {
			// the stop heuristic only counts runs within one page
			consecutiveKnown := 0
			for i := range ads {
				ad := ads[i]
				known, err := chore.db.RawContainsTriple(ctx, ad.IDSec, ad.Title, ad.Price)
				if err != nil {
					return false, err
				}
				if known {
					consecutiveKnown++
					if consecutiveKnown >= 2 {
						mon.Counter("ingest_loop_early_stops").Inc(1)
						return true, nil
					}
					continue
				}
				consecutiveKnown = 0
				if _, err := chore.ingest(ctx, ad); err != nil {
					return false, err
				}
			}
			return false, nil
		})
	return Error.Wrap(err)
}

// ingest normalises one parsed listing and stores it. Blacklisted
// stores are dropped on the floor. When the listing carries its agency
// already, a shallow agency row is ensured first so the raw row records
// its id, and the listing is copied straight into withAgency so the
// night resolver can skip it.
func (chore *Chore) ingest(ctx context.Context, raw fetcher.RawListing) (created bool, err error) {
	if raw.IDSec == "" {
		chore.log.Debug("skipping listing without id")
		return false, nil
	}

	l := normalize(raw, chore.nowFn())
	if chore.blacklist.Contains(l.StoreID) {
		mon.Counter("ingest_blacklisted").Inc(1)
		return false, nil
	}

	if l.StoreID != nil && l.AgencyName != nil {
		shallow := listing.Agency{StoreID: *l.StoreID, Name: *l.AgencyName}
		if raw.StoreLogo != "" {
			shallow.Logo = &raw.StoreLogo
		}
		agencyID, err := chore.db.EnsureAgencyBrute(ctx, &shallow)
		if err != nil {
			return false, err
		}
		idAgence := agencyID.Hex()
		l.IDAgence = &idAgence
	}

	created, err = chore.db.CreateRaw(ctx, &l)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	if l.IDAgence != nil {
		if _, err := chore.db.CreateWithAgency(ctx, &l); err != nil {
			return false, err
		}
	}
	return true, nil
}
