// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package agency

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

// Enricher scrapes the agency pages of brute rows that were only ever
// seen shallowly, then promotes them. Runs at night as the agence_brute
// stage.
//
// architecture: Chore
type Enricher struct {
	log     *zap.Logger
	db      DB
	fetcher fetcher.Fetcher
	config  Config

	nowFn func() time.Time
}

// NewEnricher wires the enricher.
func NewEnricher(log *zap.Logger, db DB, f fetcher.Fetcher, config Config) *Enricher {
	config.applyDefaults()
	return &Enricher{
		log:     log,
		db:      db,
		fetcher: f,
		config:  config,
		nowFn:   time.Now,
	}
}

// Run enriches unscraped brute agencies until canceled.
func (enricher *Enricher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := enricher.pass(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case fetcher.ErrBlocked.Has(err):
			enricher.log.Warn("anti-bot block, backing off", zap.Error(err))
			if !sync2.Sleep(ctx, enricher.config.BlockWait) {
				return nil
			}
			continue
		case err != nil:
			return err
		}
		if n == 0 {
			if !sync2.Sleep(ctx, enricher.config.EmptyPause) {
				return nil
			}
		}
	}
}

func (enricher *Enricher) pass(ctx context.Context) (handled int, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := enricher.db.UnscrapedAgencies(ctx, enricher.config.BatchSize)
	if err != nil {
		return 0, err
	}
	for i := range batch {
		if ctx.Err() != nil {
			return len(batch), nil
		}
		if err := enricher.enrich(ctx, &batch[i]); err != nil {
			if fetcher.ErrBlocked.Has(err) {
				return len(batch), err
			}
			enricher.log.Warn("agency not enriched",
				zap.String("storeId", batch[i].StoreID), zap.Error(err))
		}
	}
	return len(batch), nil
}

// enrich scrapes one agency page, fills the brute row and promotes it
// when any of the detail fields came back. A missing page still counts
// as scraped, with every field set to the sentinel, so the stage never
// spins on dead pages; an all-sentinel row stays out of the final
// collection.
func (enricher *Enricher) enrich(ctx context.Context, a *listing.Agency) (err error) {
	defer mon.Task()(&ctx)(&err)

	var page fetcher.AgencyDetail
	if a.Lien != "" {
		detail, err := enricher.fetcher.AgencyDetail(ctx, a.Lien)
		switch {
		case fetcher.ErrTransient.Has(err):
			return nil
		case fetcher.ErrPageGone.Has(err):
			// dead page, keep the shallow row
		case err != nil:
			return err
		default:
			page = *detail
		}
	}

	applyDetail(a, &page, enricher.nowFn())
	if err := enricher.db.UpdateAgencyBrute(ctx, a); err != nil {
		return err
	}
	if a.Completeness() == 0 {
		mon.Counter("agency_enrich_empty").Inc(1)
		return nil
	}
	if _, err := enricher.db.PromoteAgency(ctx, a); err != nil {
		return err
	}
	mon.Counter("agency_enriched").Inc(1)
	return nil
}
