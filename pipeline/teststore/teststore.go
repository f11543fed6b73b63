// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package teststore is an in-memory store with the same operations and
// unique-key semantics as storedb, for stage tests.
package teststore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

// Error is the default error class for the teststore package.
var Error = errs.Class("teststore")

// DB keeps every collection in memory, guarded by one mutex.
type DB struct {
	mu sync.Mutex

	raw        []listing.Listing
	withAgency []listing.Listing
	final      []listing.Listing
	brute      []listing.Agency
	finalAg    []listing.Agency
}

// New returns an empty store.
func New() *DB { return &DB{} }

func sameTriple(l *listing.Listing, idSec, title string, price *float64) bool {
	if l.IDSec != idSec || l.Title != title {
		return false
	}
	if (l.Price == nil) != (price == nil) {
		return false
	}
	return l.Price == nil || *l.Price == *price
}

//
// raw listings
//

// CreateRaw inserts a raw listing unless its idSec is already known.
func (db *DB) CreateRaw(ctx context.Context, l *listing.Listing) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.raw {
		if db.raw[i].IDSec == l.IDSec {
			return false, nil
		}
	}
	copied := *l
	if copied.ID.IsZero() {
		copied.ID = primitive.NewObjectID()
	}
	l.ID = copied.ID
	db.raw = append(db.raw, copied)
	return true, nil
}

// RawContainsTriple reports whether a raw listing with the identity is
// stored.
func (db *DB) RawContainsTriple(ctx context.Context, idSec, title string, price *float64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.raw {
		if sameTriple(&db.raw[i], idSec, title, price) {
			return true, nil
		}
	}
	return false, nil
}

// UnresolvedRaw returns raw listings not yet present in withAgency and
// not flagged agency-less.
func (db *DB) UnresolvedRaw(ctx context.Context, limit int) ([]listing.Listing, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	known := make(map[string]struct{}, len(db.withAgency))
	for i := range db.withAgency {
		known[db.withAgency[i].IDSec] = struct{}{}
	}

	var out []listing.Listing
	for i := range db.raw {
		if db.raw[i].NoAgencyFound {
			continue
		}
		if _, ok := known[db.raw[i].IDSec]; ok {
			continue
		}
		out = append(out, db.raw[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteRaw removes a raw listing.
func (db *DB) DeleteRaw(ctx context.Context, idSec string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.raw {
		if db.raw[i].IDSec == idSec {
			db.raw = append(db.raw[:i], db.raw[i+1:]...)
			return nil
		}
	}
	return nil
}

// MarkNoAgency flags a raw listing as agency-less.
func (db *DB) MarkNoAgency(ctx context.Context, idSec string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.raw {
		if db.raw[i].IDSec == idSec {
			db.raw[i].NoAgencyFound = true
			return nil
		}
	}
	return nil
}

// Raw returns a snapshot of the raw collection.
func (db *DB) Raw() []listing.Listing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]listing.Listing(nil), db.raw...)
}

//
// withAgency listings
//

// CreateWithAgency inserts into withAgency unless idSec is present.
func (db *DB) CreateWithAgency(ctx context.Context, l *listing.Listing) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.withAgency {
		if db.withAgency[i].IDSec == l.IDSec {
			return false, nil
		}
	}
	copied := *l
	copied.ID = primitive.NewObjectID()
	copied.Processed = false
	copied.ProcessedAt = nil
	db.withAgency = append(db.withAgency, copied)
	return true, nil
}

// UnprocessedBatch returns up to limit unprocessed withAgency listings,
// oldest scrape first.
func (db *DB) UnprocessedBatch(ctx context.Context, limit int) ([]listing.Listing, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []listing.Listing
	for i := range db.withAgency {
		if !db.withAgency[i].Processed {
			out = append(out, db.withAgency[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ScrapedAt, out[j].ScrapedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateImages persists the image slots of a withAgency listing.
func (db *DB) UpdateImages(ctx context.Context, id primitive.ObjectID, images []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.withAgency {
		if db.withAgency[i].ID == id {
			db.withAgency[i].Images = append([]string(nil), images...)
			return nil
		}
	}
	return Error.New("no withAgency listing with id %s", id.Hex())
}

// MarkProcessed flips the processed flag of a withAgency listing.
func (db *DB) MarkProcessed(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.withAgency {
		if db.withAgency[i].ID == id {
			db.withAgency[i].Processed = true
			processedAt := at
			db.withAgency[i].ProcessedAt = &processedAt
			return nil
		}
	}
	return Error.New("no withAgency listing with id %s", id.Hex())
}

// WithAgency returns a snapshot of the withAgency collection.
func (db *DB) WithAgency() []listing.Listing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]listing.Listing(nil), db.withAgency...)
}

//
// final listings
//

// FinalContainsTriple reports whether final has a row for the identity.
func (db *DB) FinalContainsTriple(ctx context.Context, idSec, title string, price *float64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.final {
		if sameTriple(&db.final[i], idSec, title, price) {
			return true, nil
		}
	}
	return false, nil
}

// UpsertFinal inserts or merge-updates a final listing under the triple
// key, preserving the existing row's identity.
func (db *DB) UpsertFinal(ctx context.Context, l *listing.Listing) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.final {
		if sameTriple(&db.final[i], l.IDSec, l.Title, l.Price) {
			listing.MergeMissing(&db.final[i], l)
			return nil
		}
	}
	copied := *l
	copied.ID = primitive.NewObjectID()
	db.final = append(db.final, copied)
	return nil
}

// Final returns a snapshot of the final collection.
func (db *DB) Final() []listing.Listing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]listing.Listing(nil), db.final...)
}

//
// agencies
//

// EnsureAgencyBrute upserts a shallow brute agency keyed by storeId.
func (db *DB) EnsureAgencyBrute(ctx context.Context, a *listing.Agency) (primitive.ObjectID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if a.StoreID == "" {
		return primitive.NilObjectID, Error.New("agency without storeId")
	}
	for i := range db.brute {
		if db.brute[i].StoreID == a.StoreID {
			return db.brute[i].ID, nil
		}
	}
	copied := *a
	if copied.ID.IsZero() {
		copied.ID = primitive.NewObjectID()
	}
	db.brute = append(db.brute, copied)
	return copied.ID, nil
}

// AgencyBruteByStoreID returns the brute agency or nil.
func (db *DB) AgencyBruteByStoreID(ctx context.Context, storeID string) (*listing.Agency, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.brute {
		if db.brute[i].StoreID == storeID {
			copied := db.brute[i]
			return &copied, nil
		}
	}
	return nil, nil
}

// AgencyFinalByStoreID returns the final agency or nil.
func (db *DB) AgencyFinalByStoreID(ctx context.Context, storeID string) (*listing.Agency, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.finalAg {
		if db.finalAg[i].StoreID == storeID {
			copied := db.finalAg[i]
			return &copied, nil
		}
	}
	return nil, nil
}

// AgencyFinalByID returns the final agency or nil.
func (db *DB) AgencyFinalByID(ctx context.Context, id primitive.ObjectID) (*listing.Agency, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.finalAg {
		if db.finalAg[i].ID == id {
			copied := db.finalAg[i]
			return &copied, nil
		}
	}
	return nil, nil
}

// UnscrapedAgencies returns brute agencies not yet scraped nor
// promoted.
func (db *DB) UnscrapedAgencies(ctx context.Context, limit int) ([]listing.Agency, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	promoted := make(map[string]struct{}, len(db.finalAg))
	for i := range db.finalAg {
		promoted[db.finalAg[i].StoreID] = struct{}{}
	}

	var out []listing.Agency
	for i := range db.brute {
		if db.brute[i].Scraped {
			continue
		}
		if _, ok := promoted[db.brute[i].StoreID]; ok {
			continue
		}
		out = append(out, db.brute[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpdateAgencyBrute overwrites the brute agency row keyed by storeId.
func (db *DB) UpdateAgencyBrute(ctx context.Context, a *listing.Agency) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.brute {
		if db.brute[i].StoreID == a.StoreID {
			db.brute[i] = *a
			return nil
		}
	}
	return Error.New("no brute agency with storeId %q", a.StoreID)
}

// PromoteAgency copies an agency into the final collection with the
// strictly-more-complete rule, preserving ids.
func (db *DB) PromoteAgency(ctx context.Context, a *listing.Agency) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range db.finalAg {
		if db.finalAg[i].StoreID == a.StoreID {
			if a.Completeness() <= db.finalAg[i].Completeness() {
				return false, nil
			}
			replacement := *a
			replacement.ID = db.finalAg[i].ID
			db.finalAg[i] = replacement
			return true, nil
		}
	}
	copied := *a
	if copied.ID.IsZero() {
		copied.ID = primitive.NewObjectID()
	}
	db.finalAg = append(db.finalAg, copied)
	return true, nil
}

// Brute returns a snapshot of the brute agency collection.
func (db *DB) Brute() []listing.Agency {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]listing.Agency(nil), db.brute...)
}

// FinalAgencies returns a snapshot of the final agency collection.
func (db *DB) FinalAgencies() []listing.Agency {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]listing.Agency(nil), db.finalAg...)
}
