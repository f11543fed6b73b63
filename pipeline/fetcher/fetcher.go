// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package fetcher defines the contract between the pipeline and the
// browser-automation layer that actually talks to the listings site.
// The pipeline never depends on how pages are obtained; it only sees
// parsed records and a small set of failure kinds.
package fetcher

import (
	"context"

	"github.com/zeebo/errs"
)

var (
	// ErrPageGone means the listing page no longer exists at the
	// source; the caller should drop the corresponding raw record.
	ErrPageGone = errs.Class("page gone")

	// ErrTransient covers network failures, 5xx responses and
	// timeouts; the operation may succeed when retried later.
	ErrTransient = errs.Class("transient fetch")

	// ErrBlocked means the source served an unsolvable anti-bot
	// challenge; the stage should tear down its session, wait and
	// restart its outer loop.
	ErrBlocked = errs.Class("anti-bot block")
)

// RawListing is a listing as parsed off a search results page. Dates
// are carried as source-formatted strings; normalisation belongs to the
// ingester.
type RawListing struct {
	IDSec string
	Title string
	Price *float64

	PublicationDate string
	IndexDate       string
	ExpirationDate  string

	Status       string
	AdType       string
	Body         string
	URL          string
	CategoryID   string
	CategoryName string

	Images    []string
	NbrImages int

	// Labeled attributes from the source ("Surface habitable",
	// "Classe énergie", ...). Multi-valued attributes are separate.
	Attributes      map[string]string
	MultiAttributes map[string][]string

	Location Location

	StoreID   string
	StoreName string
	StoreLogo string
	OwnerName string
}

// Location is the geo block of a raw listing.
type Location struct {
	Region        string
	City          string
	Zipcode       string
	Departement   string
	Latitude      *float64
	Longitude     *float64
	RegionID      string
	DepartementID string
}

// ListingDetail is what a listing's own page reveals about its agency.
type ListingDetail struct {
	AgencyLink string
	AgencyName string
	StoreID    string
}

// AgencyDetail is the scraped content of an agency page. Empty fields
// were looked for but not found.
type AgencyDetail struct {
	CodeSiren        string
	Logo             string
	Adresse          string
	ZoneIntervention string
	SiteWeb          string
	Horaires         string
	Number           string
	Description      string
}

// Filters narrows a search walk. The zero value walks the default
// rental search the service is configured for.
type Filters struct {
	Category string
	Region   string
}

// Fetcher is the abstract source of listings and agency details.
//
// architecture: Service
type Fetcher interface {
	// ListingPages walks search result pages in order, invoking fn
	// once per page with the parsed listings, up to pageLimit pages.
	// The stream may contain duplicates; consumers deduplicate on
	// IDSec. Returning stop=true from fn ends the walk cleanly.
	ListingPages(ctx context.Context, filters Filters, pageLimit int, fn func(ctx context.Context, page int, ads []RawListing) (stop bool, err error)) error

	// ListingDetail fetches a listing's own page. Fails with
	// ErrPageGone when the listing was removed at the source.
	ListingDetail(ctx context.Context, listingURL string) (*ListingDetail, error)

	// AgencyDetail fetches and parses an agency page.
	AgencyDetail(ctx context.Context, agencyURL string) (*AgencyDetail, error)
}
