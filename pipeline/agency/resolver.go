// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package agency

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

// Resolver links raw listings to their agencies and copies them into
// the withAgency collection. Runs at night as the agence_notexisting
// stage.
//
// architecture: Chore
type Resolver struct {
	log       *zap.Logger
	db        DB
	fetcher   fetcher.Fetcher
	blacklist listing.Blacklist
	config    Config

	nowFn func() time.Time
}

// NewResolver wires the resolver.
func NewResolver(log *zap.Logger, db DB, f fetcher.Fetcher, blacklist listing.Blacklist, config Config) *Resolver {
	config.applyDefaults()
	return &Resolver{
		log:       log,
		db:        db,
		fetcher:   f,
		blacklist: blacklist,
		config:    config,
		nowFn:     time.Now,
	}
}

// Run processes unresolved raw listings until canceled.
func (resolver *Resolver) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := resolver.pass(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case fetcher.ErrBlocked.Has(err):
			resolver.log.Warn("anti-bot block, backing off", zap.Error(err))
			if !sync2.Sleep(ctx, resolver.config.BlockWait) {
				return nil
			}
			continue
		case err != nil:
			return err
		}
		if n == 0 {
			if !sync2.Sleep(ctx, resolver.config.EmptyPause) {
				return nil
			}
		}
	}
}

// pass resolves one batch and returns how many records it handled.
// Store failures are fatal; per-record fetch failures are contained.
func (resolver *Resolver) pass(ctx context.Context) (handled int, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := resolver.db.UnresolvedRaw(ctx, resolver.config.BatchSize)
	if err != nil {
		return 0, err
	}
	for i := range batch {
		if ctx.Err() != nil {
			return len(batch), nil
		}
		if err := resolver.resolve(ctx, &batch[i]); err != nil {
			if fetcher.ErrBlocked.Has(err) {
				return len(batch), err
			}
			resolver.log.Warn("listing not resolved",
				zap.String("idSec", batch[i].IDSec), zap.Error(err))
		}
	}
	return len(batch), nil
}

func (resolver *Resolver) resolve(ctx context.Context, l *listing.Listing) (err error) {
	defer mon.Task()(&ctx)(&err)

	if resolver.blacklist.Contains(l.StoreID) {
		mon.Counter("agency_blacklisted").Inc(1)
		return resolver.db.DeleteRaw(ctx, l.IDSec)
	}

	detail, err := resolver.fetcher.ListingDetail(ctx, l.URL)
	switch {
	case fetcher.ErrPageGone.Has(err):
		// listing removed at the source, nothing left to resolve
		return resolver.db.DeleteRaw(ctx, l.IDSec)
	case fetcher.ErrTransient.Has(err):
		// leave the record for a later pass
		return nil
	case err != nil:
		return err
	}

	storeID := detail.StoreID
	if storeID == "" && l.StoreID != nil {
		storeID = *l.StoreID
	}
	if detail.AgencyLink == "" && storeID == "" {
		mon.Counter("agency_none_found").Inc(1)
		return resolver.db.MarkNoAgency(ctx, l.IDSec)
	}
	if resolver.blacklist.Contains(&storeID) {
		return resolver.db.DeleteRaw(ctx, l.IDSec)
	}

	agencyID, agencyName, err := resolver.lookupOrScrape(ctx, storeID, detail)
	if err != nil {
		return err
	}
	if agencyID.IsZero() {
		// agency page unreachable for now, retry on a later pass
		return nil
	}

	idAgence := agencyID.Hex()
	l.IDAgence = &idAgence
	if agencyName != "" {
		l.AgencyName = &agencyName
	}
	if storeID != "" {
		l.StoreID = &storeID
	}
	_, err = resolver.db.CreateWithAgency(ctx, l)
	return err
}

// lookupOrScrape returns the id of the listing's agency, creating and
// promoting it from the agency page when nothing is stored yet.
func (resolver *Resolver) lookupOrScrape(ctx context.Context, storeID string, detail *fetcher.ListingDetail) (id primitive.ObjectID, name string, err error) {
	if storeID != "" {
		final, err := resolver.db.AgencyFinalByStoreID(ctx, storeID)
		if err != nil {
			return primitive.NilObjectID, "", err
		}
		if final != nil {
			return final.ID, final.Name, nil
		}
	}
	if detail.AgencyLink == "" {
		return primitive.NilObjectID, "", nil
	}

	page, err := resolver.fetcher.AgencyDetail(ctx, detail.AgencyLink)
	switch {
	case fetcher.ErrTransient.Has(err) || fetcher.ErrPageGone.Has(err):
		return primitive.NilObjectID, "", nil
	case err != nil:
		return primitive.NilObjectID, "", err
	}

	a := listing.Agency{
		StoreID: storeID,
		Name:    detail.AgencyName,
		Lien:    detail.AgencyLink,
	}
	bruteID, err := resolver.db.EnsureAgencyBrute(ctx, &a)
	if err != nil {
		return primitive.NilObjectID, "", err
	}
	a.ID = bruteID
	applyDetail(&a, page, resolver.nowFn())
	if err := resolver.db.UpdateAgencyBrute(ctx, &a); err != nil {
		return primitive.NilObjectID, "", err
	}
	if _, err := resolver.db.PromoteAgency(ctx, &a); err != nil {
		return primitive.NilObjectID, "", err
	}
	mon.Counter("agency_resolved").Inc(1)
	return bruteID, a.Name, nil
}
