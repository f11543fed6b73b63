// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package storedb implements the Mongo-backed store behind every
// pipeline stage. Stages declare the operations they need as interfaces
// in their own packages; *DB satisfies all of them.
package storedb

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

var (
	// Error is the default error class for the storedb package.
	Error = errs.Class("storedb")
	mon   = monkit.Package()
)

// Collection names, shared with the previous generation of the
// pipeline so existing data keeps flowing.
const (
	collRaw        = "realState"
	collWithAgency = "realStateWithAgence"
	collFinal      = "realStateFinale"
	collBrute      = "agencesBrute"
	collFinalAg    = "agencesFinale"
)

const defaultDatabase = "xtracto"

// DB is the Mongo-backed pipeline store.
//
// architecture: Database
type DB struct {
	log    *zap.Logger
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to Mongo, pings the primary and returns the store.
// A failed ping is fatal; the caller exits rather than limping along
// without persistence.
func Open(ctx context.Context, log *zap.Logger, uri string) (*DB, error) {
	if uri == "" {
		return nil, Error.New("mongo uri is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, Error.Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, Error.New("ping failed: %w", err)
	}

	db := &DB{
		log:    log,
		client: client,
		db:     client.Database(databaseName(uri)),
	}
	return db, nil
}

// databaseName extracts the database from the URI path, falling back
// to the default.
func databaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return defaultDatabase
	}
	return name
}

// Close disconnects from Mongo.
func (db *DB) Close(ctx context.Context) error {
	return Error.Wrap(db.client.Disconnect(ctx))
}

// EnsureIndexes creates the unique indexes every stage relies on for
// dedup. Safe to call on every startup.
func (db *DB) EnsureIndexes(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	unique := options.Index().SetUnique(true)

	type spec struct {
		coll string
		keys bson.D
	}
	for _, s := range []spec{
		{collRaw, bson.D{{Key: "idSec", Value: 1}}},
		{collWithAgency, bson.D{{Key: "idSec", Value: 1}}},
		{collFinal, bson.D{{Key: "idSec", Value: 1}, {Key: "title", Value: 1}, {Key: "price", Value: 1}}},
		{collBrute, bson.D{{Key: "storeId", Value: 1}}},
		{collFinalAg, bson.D{{Key: "storeId", Value: 1}}},
	} {
		_, err := db.db.Collection(s.coll).Indexes().CreateOne(ctx,
			mongo.IndexModel{Keys: s.keys, Options: unique})
		if err != nil {
			return Error.New("index on %s: %w", s.coll, err)
		}
	}
	return nil
}

func (db *DB) raw() *mongo.Collection        { return db.db.Collection(collRaw) }
func (db *DB) withAgency() *mongo.Collection { return db.db.Collection(collWithAgency) }
func (db *DB) final() *mongo.Collection      { return db.db.Collection(collFinal) }
func (db *DB) brute() *mongo.Collection      { return db.db.Collection(collBrute) }
func (db *DB) finalAg() *mongo.Collection    { return db.db.Collection(collFinalAg) }

// tripleKey is the identity of a listing in the final collection.
func tripleKey(idSec, title string, price *float64) bson.D {
	priceValue := any(nil)
	if price != nil {
		priceValue = *price
	}
	return bson.D{
		{Key: "idSec", Value: idSec},
		{Key: "title", Value: title},
		{Key: "price", Value: priceValue},
	}
}

//
// raw listings
//

// CreateRaw inserts a raw listing unless its idSec is already known.
// Returns false when the record was already present.
func (db *DB) CreateRaw(ctx context.Context, l *listing.Listing) (created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if l.ID.IsZero() {
		l.ID = primitive.NewObjectID()
	}
	_, err = db.raw().InsertOne(ctx, l)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// RawContainsTriple reports whether a raw listing with the same
// (idSec, title, price) identity is already stored.
func (db *DB) RawContainsTriple(ctx context.Context, idSec, title string, price *float64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	count, err := db.raw().CountDocuments(ctx, tripleKey(idSec, title, price), options.Count().SetLimit(1))
	if err != nil {
		return false, Error.Wrap(err)
	}
	return count > 0, nil
}

// UnresolvedRaw returns raw listings that have not yet been copied into
// the withAgency collection and are not flagged as agency-less.
func (db *DB) UnresolvedRaw(ctx context.Context, limit int) (_ []listing.Listing, err error) {
	defer mon.Task()(&ctx)(&err)

	known, err := db.withAgency().Distinct(ctx, "idSec", bson.D{})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	filter := bson.D{
		{Key: "noAgencyFound", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	if len(known) > 0 {
		filter = append(filter, bson.E{Key: "idSec", Value: bson.D{{Key: "$nin", Value: known}}})
	}

	opts := options.Find().SetSort(bson.D{{Key: "scrapedAt", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := db.raw().Find(ctx, filter, opts)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, cursor.Close(ctx)) }()

	var out []listing.Listing
	if err := cursor.All(ctx, &out); err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}

// DeleteRaw removes a raw listing whose page no longer exists at the
// source.
func (db *DB) DeleteRaw(ctx context.Context, idSec string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.raw().DeleteOne(ctx, bson.D{{Key: "idSec", Value: idSec}})
	return Error.Wrap(err)
}

// MarkNoAgency flags a raw listing as having no agency link so the
// resolver stops revisiting it.
func (db *DB) MarkNoAgency(ctx context.Context, idSec string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.raw().UpdateOne(ctx,
		bson.D{{Key: "idSec", Value: idSec}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "noAgencyFound", Value: true}}}})
	return Error.Wrap(err)
}

//
// withAgency listings
//

// CreateWithAgency inserts a listing into the withAgency collection
// unless its idSec is already there.
func (db *DB) CreateWithAgency(ctx context.Context, l *listing.Listing) (created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	copied := *l
	copied.ID = primitive.NewObjectID()
	copied.Processed = false
	copied.ProcessedAt = nil

	_, err = db.withAgency().InsertOne(ctx, &copied)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// UnprocessedBatch returns up to limit unprocessed withAgency listings,
// oldest scrape first.
func (db *DB) UnprocessedBatch(ctx context.Context, limit int) (_ []listing.Listing, err error) {
	defer mon.Task()(&ctx)(&err)

	opts := options.Find().
		SetSort(bson.D{{Key: "scrapedAt", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := db.withAgency().Find(ctx,
		bson.D{{Key: "processed", Value: bson.D{{Key: "$ne", Value: true}}}}, opts)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, cursor.Close(ctx)) }()

	var out []listing.Listing
	if err := cursor.All(ctx, &out); err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}

// UpdateImages persists the image slots of a withAgency listing so a
// deferred record does not upload the same images twice.
func (db *DB) UpdateImages(ctx context.Context, id primitive.ObjectID, images []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.withAgency().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "images", Value: images}}}})
	return Error.Wrap(err)
}

// MarkProcessed flips the processed flag of a withAgency listing.
// Called strictly after the final upsert succeeded.
func (db *DB) MarkProcessed(ctx context.Context, id primitive.ObjectID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.withAgency().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "processed", Value: true},
			{Key: "processedAt", Value: at},
		}}})
	return Error.Wrap(err)
}

//
// final listings
//

// FinalContainsTriple reports whether the final collection already has
// a row under the (idSec, title, price) identity.
func (db *DB) FinalContainsTriple(ctx context.Context, idSec, title string, price *float64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	count, err := db.final().CountDocuments(ctx, tripleKey(idSec, title, price), options.Count().SetLimit(1))
	if err != nil {
		return false, Error.Wrap(err)
	}
	return count > 0, nil
}

// UpsertFinal writes a processed listing into the final collection. An
// existing row under the same triple key keeps its identity and its
// already-filled fields; only the gaps are filled from the incoming
// record.
func (db *DB) UpsertFinal(ctx context.Context, l *listing.Listing) (err error) {
	defer mon.Task()(&ctx)(&err)

	filter := tripleKey(l.IDSec, l.Title, l.Price)

	var existing listing.Listing
	findErr := db.final().FindOne(ctx, filter).Decode(&existing)
	switch {
	case findErr == mongo.ErrNoDocuments:
		fresh := *l
		fresh.ID = primitive.NewObjectID()
		_, err = db.final().InsertOne(ctx, &fresh)
		if mongo.IsDuplicateKeyError(err) {
			// concurrent writer got there first; merge into theirs
			return db.UpsertFinal(ctx, l)
		}
		return Error.Wrap(err)
	case findErr != nil:
		return Error.Wrap(findErr)
	}

	listing.MergeMissing(&existing, l)
	_, err = db.final().ReplaceOne(ctx, bson.D{{Key: "_id", Value: existing.ID}}, &existing)
	return Error.Wrap(err)
}

//
// agencies
//

// EnsureAgencyBrute upserts a shallow agency row keyed by storeId and
// returns the row's id. An existing row keeps its id and its fields.
func (db *DB) EnsureAgencyBrute(ctx context.Context, a *listing.Agency) (_ primitive.ObjectID, err error) {
	defer mon.Task()(&ctx)(&err)

	if a.StoreID == "" {
		return primitive.NilObjectID, Error.New("agency without storeId")
	}

	fresh := *a
	if fresh.ID.IsZero() {
		fresh.ID = primitive.NewObjectID()
	}
	_, err = db.brute().InsertOne(ctx, &fresh)
	if err == nil {
		return fresh.ID, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, Error.Wrap(err)
	}

	existing, err := db.AgencyBruteByStoreID(ctx, a.StoreID)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if existing == nil {
		return primitive.NilObjectID, Error.New("agency %q vanished between insert and lookup", a.StoreID)
	}
	return existing.ID, nil
}

// AgencyBruteByStoreID returns the brute agency with the storeId, or
// nil when absent.
func (db *DB) AgencyBruteByStoreID(ctx context.Context, storeID string) (_ *listing.Agency, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.agencyByStoreID(ctx, db.brute(), storeID)
}

// AgencyFinalByStoreID returns the final agency with the storeId, or
// nil when absent.
func (db *DB) AgencyFinalByStoreID(ctx context.Context, storeID string) (_ *listing.Agency, err error) {
	defer mon.Task()(&ctx)(&err)
	return db.agencyByStoreID(ctx, db.finalAg(), storeID)
}

func (db *DB) agencyByStoreID(ctx context.Context, coll *mongo.Collection, storeID string) (*listing.Agency, error) {
	var a listing.Agency
	err := coll.FindOne(ctx, bson.D{{Key: "storeId", Value: storeID}}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &a, nil
}

// AgencyFinalByID returns the final agency with the id, or nil when
// absent.
func (db *DB) AgencyFinalByID(ctx context.Context, id primitive.ObjectID) (_ *listing.Agency, err error) {
	defer mon.Task()(&ctx)(&err)

	var a listing.Agency
	findErr := db.finalAg().FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&a)
	if findErr == mongo.ErrNoDocuments {
		return nil, nil
	}
	if findErr != nil {
		return nil, Error.Wrap(findErr)
	}
	return &a, nil
}

// UnscrapedAgencies returns brute agencies whose detail pages have not
// been scraped yet and that are not already promoted.
func (db *DB) UnscrapedAgencies(ctx context.Context, limit int) (_ []listing.Agency, err error) {
	defer mon.Task()(&ctx)(&err)

	promoted, err := db.finalAg().Distinct(ctx, "storeId", bson.D{})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	filter := bson.D{
		{Key: "scraped", Value: bson.D{{Key: "$ne", Value: true}}},
	}
	if len(promoted) > 0 {
		filter = append(filter, bson.E{Key: "storeId", Value: bson.D{{Key: "$nin", Value: promoted}}})
	}

	opts := options.Find()
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := db.brute().Find(ctx, filter, opts)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, cursor.Close(ctx)) }()

	var out []listing.Agency
	if err := cursor.All(ctx, &out); err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}

// UpdateAgencyBrute overwrites the brute agency row, keyed by storeId.
func (db *DB) UpdateAgencyBrute(ctx context.Context, a *listing.Agency) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.brute().ReplaceOne(ctx, bson.D{{Key: "storeId", Value: a.StoreID}}, a)
	return Error.Wrap(err)
}

// PromoteAgency copies an agency into the final collection, preserving
// its id. An existing row under the same storeId is overwritten only
// when the incoming record is strictly more complete; the returned bool
// reports whether the final row changed.
func (db *DB) PromoteAgency(ctx context.Context, a *listing.Agency) (promoted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := db.AgencyFinalByStoreID(ctx, a.StoreID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		fresh := *a
		if fresh.ID.IsZero() {
			fresh.ID = primitive.NewObjectID()
		}
		_, err = db.finalAg().InsertOne(ctx, &fresh)
		if mongo.IsDuplicateKeyError(err) {
			// lost the race; retry against the winner's row
			return db.PromoteAgency(ctx, a)
		}
		if err != nil {
			return false, Error.Wrap(err)
		}
		return true, nil
	}

	if a.Completeness() <= existing.Completeness() {
		return false, nil
	}
	replacement := *a
	replacement.ID = existing.ID
	_, err = db.finalAg().ReplaceOne(ctx, bson.D{{Key: "_id", Value: existing.ID}}, &replacement)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}
