// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package imagepipe runs the last stage of the pipeline: it downloads a
// listing's images, crops the watermark bands, uploads the results to
// the object store and promotes the listing into the final collection.
package imagepipe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
	"github.com/cercinaai/Xtracto-io/pipeline/blobstore"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/imageproc"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

var (
	// Error is the default error class for the imagepipe package.
	Error = errs.Class("imagepipe")
	mon   = monkit.Package()
)

// DB is the part of the store the image pipeline needs.
type DB interface {
	UnprocessedBatch(ctx context.Context, limit int) ([]listing.Listing, error)
	UpdateImages(ctx context.Context, id primitive.ObjectID, images []string) error
	MarkProcessed(ctx context.Context, id primitive.ObjectID, at time.Time) error

	FinalContainsTriple(ctx context.Context, idSec, title string, price *float64) (bool, error)
	UpsertFinal(ctx context.Context, l *listing.Listing) error

	AgencyFinalByID(ctx context.Context, id primitive.ObjectID) (*listing.Agency, error)
	AgencyFinalByStoreID(ctx context.Context, storeID string) (*listing.Agency, error)
	AgencyBruteByStoreID(ctx context.Context, storeID string) (*listing.Agency, error)
	EnsureAgencyBrute(ctx context.Context, a *listing.Agency) (primitive.ObjectID, error)
	PromoteAgency(ctx context.Context, a *listing.Agency) (promoted bool, err error)
}

// Uploader stores processed image bytes and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, objectName, contentType string) (string, error)
	URLPrefix() string
}

// Config contains configurable values for the image pipeline.
type Config struct {
	BatchSize  int           `help:"listings pulled from the store per batch" default:"20"`
	Instances  int           `help:"concurrent listing workers, 1 to 10" default:"5"`
	EmptyPause time.Duration `help:"pause when no unprocessed listings remain" default:"10s"`
}

// Service is the process_and_transfer stage.
//
// architecture: Service
type Service struct {
	log       *zap.Logger
	db        DB
	uploader  Uploader
	source    ImageSource
	blacklist listing.Blacklist
	config    Config

	mu        sync.Mutex
	instances int

	nowFn func() time.Time
	crop  func([]byte) ([]byte, error)
}

// NewService wires the image pipeline.
func NewService(log *zap.Logger, db DB, uploader Uploader, source ImageSource, blacklist listing.Blacklist, config Config) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.Instances < 1 || config.Instances > 10 {
		config.Instances = 5
	}
	if config.EmptyPause <= 0 {
		config.EmptyPause = 10 * time.Second
	}
	return &Service{
		log:       log,
		db:        db,
		uploader:  uploader,
		source:    source,
		blacklist: blacklist,
		config:    config,
		instances: config.Instances,
		nowFn:     time.Now,
		crop:      imageproc.Crop,
	}
}

// SetInstances adjusts the worker count for the next batch.
func (service *Service) SetInstances(n int) error {
	if n < 1 || n > 10 {
		return Error.New("instances must be between 1 and 10, got %d", n)
	}
	service.mu.Lock()
	service.instances = n
	service.mu.Unlock()
	return nil
}

// Instances returns the current worker count.
func (service *Service) Instances() int {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.instances
}

// Run pulls batches of unprocessed listings and works them with a
// bounded worker pool until canceled. Per-record failures are contained
// inside the worker; only store-level failures stop the stage.
func (service *Service) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := service.runBatch(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		case n == 0:
			if !sync2.Sleep(ctx, service.config.EmptyPause) {
				return nil
			}
		}
	}
}

func (service *Service) runBatch(ctx context.Context) (n int, err error) {
	defer mon.Task()(&ctx)(&err)

	batch, err := service.db.UnprocessedBatch(ctx, service.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	limiter := sync2.NewLimiter(service.Instances())
	for i := range batch {
		record := batch[i]
		started := limiter.Go(ctx, func() {
			if err := service.process(ctx, &record); err != nil {
				service.log.Warn("listing not promoted",
					zap.String("idSec", record.IDSec), zap.Error(err))
			}
		})
		if !started {
			break
		}
	}
	limiter.Wait()
	return len(batch), nil
}

// process runs the per-record state machine: terminal skips first, then
// the image slots, then the agency chain, then the final upsert, and
// only after that the processed flip on the withAgency row. A record
// that enters with no live image is retired without a final row; a
// record whose images all die during the pass is still promoted, with
// every slot dead and nbrImages zero.
func (service *Service) process(ctx context.Context, l *listing.Listing) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.nowFn()

	if service.blacklist.Contains(l.StoreID) {
		mon.Counter("imagepipe_blacklisted").Inc(1)
		return service.db.MarkProcessed(ctx, l.ID, now)
	}

	known, err := service.db.FinalContainsTriple(ctx, l.IDSec, l.Title, l.Price)
	if err != nil {
		return err
	}
	if known {
		// promoted by an earlier run that died before the flip
		return service.db.MarkProcessed(ctx, l.ID, now)
	}

	if l.LiveImages() == 0 {
		mon.Counter("imagepipe_imageless").Inc(1)
		return service.db.MarkProcessed(ctx, l.ID, now)
	}

	deferred := false
	for i := range l.Images {
		slot, slotDeferred, err := service.processSlot(ctx, l, i)
		if err != nil {
			return err
		}
		l.Images[i] = slot
		deferred = deferred || slotDeferred
	}

	if deferred {
		mon.Counter("imagepipe_deferred").Inc(1)
		// keep the uploads we already made, retry the rest later
		return service.db.UpdateImages(ctx, l.ID, l.Images)
	}

	resolved, err := service.resolveAgency(ctx, l)
	if err != nil {
		return err
	}
	if !resolved {
		mon.Counter("imagepipe_agency_deferred").Inc(1)
		return service.db.UpdateImages(ctx, l.ID, l.Images)
	}

	l.NbrImages = l.LiveImages()
	l.Processed = true
	l.ProcessedAt = &now
	if err := service.db.UpsertFinal(ctx, l); err != nil {
		return err
	}
	mon.Counter("imagepipe_promoted").Inc(1)
	return service.db.MarkProcessed(ctx, l.ID, now)
}

// processSlot handles one image slot and returns its new value.
// Slots that already point at the object store and dead slots are
// carried as-is. A transient failure keeps the origin URL and defers
// the record; a permanent one kills the slot.
func (service *Service) processSlot(ctx context.Context, l *listing.Listing, index int) (slot string, deferred bool, err error) {
	origin := l.Images[index]
	switch {
	case origin == listing.NoImage:
		return origin, false, nil
	case origin == "":
		return listing.NoImage, false, nil
	case strings.HasPrefix(origin, service.uploader.URLPrefix()):
		return origin, false, nil
	}

	data, err := service.source.Get(ctx, origin)
	switch {
	case fetcher.ErrTransient.Has(err):
		return origin, true, nil
	case err != nil:
		// gone at the source
		return listing.NoImage, false, nil
	}

	cropped, err := service.crop(data)
	if err != nil {
		mon.Counter("imagepipe_crop_failures").Inc(1)
		return listing.NoImage, false, nil
	}

	url, err := service.uploader.Upload(ctx, cropped, listing.ObjectName(l.IDSec, index), "image/jpeg")
	switch {
	case blobstore.ErrTransient.Has(err) || errors.Is(err, context.Canceled):
		return origin, true, nil
	case err != nil:
		mon.Counter("imagepipe_upload_rejected").Inc(1)
		return listing.NoImage, false, nil
	}
	return url, false, nil
}

// resolveAgency makes sure the listing's idAgence points at a final
// agency row, walking the chain: final by id, final by storeId, brute
// promotion, and as a last resort a minimal row synthesized from the
// listing itself. Returns false when the agency cannot be resolved yet.
func (service *Service) resolveAgency(ctx context.Context, l *listing.Listing) (bool, error) {
	if l.IDAgence != nil {
		if id, err := primitive.ObjectIDFromHex(*l.IDAgence); err == nil {
			final, err := service.db.AgencyFinalByID(ctx, id)
			if err != nil {
				return false, err
			}
			if final != nil {
				return true, nil
			}
		}
	}

	if l.StoreID != nil {
		final, err := service.db.AgencyFinalByStoreID(ctx, *l.StoreID)
		if err != nil {
			return false, err
		}
		if final != nil {
			idAgence := final.ID.Hex()
			l.IDAgence = &idAgence
			return true, nil
		}

		brute, err := service.db.AgencyBruteByStoreID(ctx, *l.StoreID)
		if err != nil {
			return false, err
		}
		if brute != nil {
			if _, err := service.db.PromoteAgency(ctx, brute); err != nil {
				return false, err
			}
			idAgence := brute.ID.Hex()
			l.IDAgence = &idAgence
			return true, nil
		}

		if l.AgencyName != nil {
			shallow := listing.Agency{StoreID: *l.StoreID, Name: *l.AgencyName}
			id, err := service.db.EnsureAgencyBrute(ctx, &shallow)
			if err != nil {
				return false, err
			}
			shallow.ID = id
			if _, err := service.db.PromoteAgency(ctx, &shallow); err != nil {
				return false, err
			}
			idAgence := id.Hex()
			l.IDAgence = &idAgence
			return true, nil
		}
	}
	return false, nil
}
