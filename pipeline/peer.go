// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package pipeline assembles the scraping pipeline: store, object
// store, fetch worker, the stages and the control API.
package pipeline

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cercinaai/Xtracto-io/pipeline/agency"
	"github.com/cercinaai/Xtracto-io/pipeline/blobstore"
	"github.com/cercinaai/Xtracto-io/pipeline/console"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/imagepipe"
	"github.com/cercinaai/Xtracto-io/pipeline/ingest"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
	"github.com/cercinaai/Xtracto-io/pipeline/storedb"
	"github.com/cercinaai/Xtracto-io/pipeline/supervisor"
)

// Error is the default error class for the pipeline package.
var Error = errs.Class("pipeline")

// Names of the supervised stages, also used by the control API.
const (
	StageFirstScraper       = "first_scraper"
	StageLoopScraper        = "loop_scraper"
	StageAgencyEnrich       = "agence_brute"
	StageAgencyResolve      = "agence_notexisting"
	StageProcessAndTransfer = "process_and_transfer"
)

// Config aggregates the configuration of every subsystem.
type Config struct {
	Ingest     ingest.Config
	Agency     agency.Config
	Images     imagepipe.Config
	Blobstore  blobstore.Config
	Fetcher    fetcher.Config
	Supervisor supervisor.Config
	Console    console.Config
}

// Peer is the pipeline process: every subsystem wired together,
// supervised and exposed over the control API.
//
// architecture: Peer
type Peer struct {
	Log *zap.Logger
	DB  *storedb.DB

	Blobstore *blobstore.Client
	Fetcher   fetcher.Fetcher

	Ingest struct {
		Chore *ingest.Chore
	}

	Agency struct {
		Resolver *agency.Resolver
		Enricher *agency.Enricher
	}

	Images struct {
		Service *imagepipe.Service
	}

	Supervisor *supervisor.Supervisor

	Console struct {
		Server *console.Server
	}
}

// New wires the peer. The store must already be open; the object-store
// client is opened here because its failure modes belong to the peer.
func New(log *zap.Logger, db *storedb.DB, f fetcher.Fetcher, config Config) (*Peer, error) {
	peer := &Peer{
		Log:     log,
		DB:      db,
		Fetcher: f,
	}

	blacklist := listing.DefaultBlacklist()

	{ // object store
		client, err := blobstore.Open(log.Named("blobstore"), config.Blobstore)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.Blobstore = client
	}

	{ // stages
		peer.Ingest.Chore = ingest.NewChore(log.Named("ingest"), db, f, blacklist, config.Ingest)
		peer.Agency.Resolver = agency.NewResolver(log.Named("agency:resolver"), db, f, blacklist, config.Agency)
		peer.Agency.Enricher = agency.NewEnricher(log.Named("agency:enricher"), db, f, config.Agency)
		peer.Images.Service = imagepipe.NewService(log.Named("imagepipe"), db,
			peer.Blobstore, imagepipe.NewHTTPSource(0), blacklist, config.Images)
	}

	{ // supervision
		peer.Supervisor = supervisor.New(log.Named("supervisor"), config.Supervisor)
		peer.Supervisor.Register(supervisor.Stage{
			Name:        StageFirstScraper,
			Window:      supervisor.Day,
			OneShot:     true,
			ReEnterLow:  15 * time.Minute,
			ReEnterHigh: 30 * time.Minute,
			Run:         peer.Ingest.Chore.RunBulk,
		})
		peer.Supervisor.Register(supervisor.Stage{
			Name:       StageLoopScraper,
			Window:     supervisor.Day,
			StartDelay: 5 * time.Minute,
			Run:        peer.Ingest.Chore.RunLoop,
		})
		peer.Supervisor.Register(supervisor.Stage{
			Name:   StageAgencyEnrich,
			Window: supervisor.Night,
			Run:    peer.Agency.Enricher.Run,
		})
		peer.Supervisor.Register(supervisor.Stage{
			Name:   StageAgencyResolve,
			Window: supervisor.Night,
			Run:    peer.Agency.Resolver.Run,
		})
		peer.Supervisor.Register(supervisor.Stage{
			Name:   StageProcessAndTransfer,
			Window: supervisor.Always,
			Run:    peer.Images.Service.Run,
		})
	}

	{ // control API
		peer.Console.Server = console.NewServer(log.Named("console"),
			peer.Supervisor, peer.Images.Service, config.Console)
	}

	return peer, nil
}

// Run starts the supervisor and the control API and blocks until the
// context is canceled or either fails.
func (peer *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group errgroup.Group
	group.Go(func() error {
		defer cancel()
		return peer.Supervisor.Run(ctx)
	})
	group.Go(func() error {
		defer cancel()
		return peer.Console.Server.Run(ctx)
	})
	return Error.Wrap(group.Wait())
}
