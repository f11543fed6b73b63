// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package agency links listings to the professional sellers behind
// them. The resolver visits listing pages to find the agency a raw
// listing belongs to; the enricher scrapes agency pages for the brute
// rows and promotes them to the final collection.
package agency

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

var (
	// Error is the default error class for the agency package.
	Error = errs.Class("agency")
	mon   = monkit.Package()
)

// DB is the part of the store the agency stages need.
type DB interface {
	UnresolvedRaw(ctx context.Context, limit int) ([]listing.Listing, error)
	DeleteRaw(ctx context.Context, idSec string) error
	MarkNoAgency(ctx context.Context, idSec string) error
	CreateWithAgency(ctx context.Context, l *listing.Listing) (created bool, err error)

	EnsureAgencyBrute(ctx context.Context, a *listing.Agency) (primitive.ObjectID, error)
	AgencyBruteByStoreID(ctx context.Context, storeID string) (*listing.Agency, error)
	AgencyFinalByStoreID(ctx context.Context, storeID string) (*listing.Agency, error)
	UnscrapedAgencies(ctx context.Context, limit int) ([]listing.Agency, error)
	UpdateAgencyBrute(ctx context.Context, a *listing.Agency) error
	PromoteAgency(ctx context.Context, a *listing.Agency) (promoted bool, err error)
}

// Config contains configurable values shared by the agency stages.
type Config struct {
	BatchSize  int           `help:"records fetched from the store per pass" default:"50"`
	EmptyPause time.Duration `help:"pause when a pass finds nothing to do" default:"10s"`
	BlockWait  time.Duration `help:"pause before restarting after an anti-bot block" default:"10s"`
}

func (config *Config) applyDefaults() {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.EmptyPause <= 0 {
		config.EmptyPause = 10 * time.Second
	}
	if config.BlockWait <= 0 {
		config.BlockWait = 10 * time.Second
	}
}

// applyDetail copies a scraped agency page into the record. Fields the
// page did not have get the NotFound sentinel so the enricher never
// revisits them.
func applyDetail(a *listing.Agency, d *fetcher.AgencyDetail, now time.Time) {
	a.CodeSiren = foundOr(d.CodeSiren)
	a.Logo = foundOr(d.Logo)
	a.Adresse = foundOr(d.Adresse)
	a.ZoneIntervention = foundOr(d.ZoneIntervention)
	a.SiteWeb = foundOr(d.SiteWeb)
	a.Horaires = foundOr(d.Horaires)
	a.Number = foundOr(d.Number)
	a.Description = foundOr(d.Description)
	a.Scraped = true
	a.ScrapedAt = &now
}

func foundOr(value string) *string {
	if value == "" {
		sentinel := listing.NotFound
		return &sentinel
	}
	return &value
}
