// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package listing defines the typed records that flow through the
// pipeline and the rules that are shared by every stage: the storeId
// blacklist, the "Non trouvé" sentinel and object-store naming.
package listing

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotFound is the sentinel recorded for agency fields the enrichment
// stage looked for but could not find. It counts as absent for the
// completeness score.
const NotFound = "Non trouvé"

// NoImage marks an image slot that is permanently unavailable.
const NoImage = "N/A"

// Listing is a classified ad. The same schema is stored in the raw,
// withAgency and final collections; records differ only by which stage
// flags are set.
type Listing struct {
	ID primitive.ObjectID `bson:"_id,omitempty"`

	IDSec string   `bson:"idSec"`
	Title string   `bson:"title,omitempty"`
	Price *float64 `bson:"price,omitempty"`

	PublicationDate *time.Time `bson:"publicationDate,omitempty"`
	IndexDate       *time.Time `bson:"indexDate,omitempty"`
	ExpirationDate  *time.Time `bson:"expirationDate,omitempty"`

	Status       *string `bson:"status,omitempty"`
	AdType       *string `bson:"adType,omitempty"`
	Description  *string `bson:"description,omitempty"`
	Body         *string `bson:"body,omitempty"`
	URL          string  `bson:"url,omitempty"`
	CategoryID   *string `bson:"categoryId,omitempty"`
	CategoryName *string `bson:"categoryName,omitempty"`

	Images    []string `bson:"images"`
	NbrImages int      `bson:"nbrImages"`

	TypeBien          *string  `bson:"typeBien,omitempty"`
	Meuble            *string  `bson:"meuble,omitempty"`
	Surface           *string  `bson:"surface,omitempty"`
	NombreDePiece     *string  `bson:"nombreDePiece,omitempty"`
	NombreChambres    *string  `bson:"nombreChambres,omitempty"`
	NombreSalleEau    *string  `bson:"nombreSalleEau,omitempty"`
	NbSallesDeBain    *string  `bson:"nbSallesDeBain,omitempty"`
	NbParkings        *string  `bson:"nbParkings,omitempty"`
	NbNiveaux         *string  `bson:"nbNiveaux,omitempty"`
	Disponibilite     *string  `bson:"disponibilite,omitempty"`
	AnneeConstruction *string  `bson:"anneeConstruction,omitempty"`
	ClasseEnergie     *string  `bson:"classeEnergie,omitempty"`
	GES               *string  `bson:"ges,omitempty"`
	Ascenseur         *string  `bson:"ascenseur,omitempty"`
	Etage             *string  `bson:"etage,omitempty"`
	NombreEtages      *string  `bson:"nombreEtages,omitempty"`
	Exterieur         []string `bson:"exterieur,omitempty"`
	ChargesIncluses   *string  `bson:"chargesIncluses,omitempty"`
	DepotGarantie     *string  `bson:"depotGarantie,omitempty"`
	LoyerMensuel      *string  `bson:"loyerMensuelCharges,omitempty"`
	Caracteristiques  []string `bson:"caracteristiques,omitempty"`

	Region        *string  `bson:"region,omitempty"`
	City          *string  `bson:"city,omitempty"`
	Zipcode       *string  `bson:"zipcode,omitempty"`
	Departement   *string  `bson:"departement,omitempty"`
	Latitude      *float64 `bson:"latitude,omitempty"`
	Longitude     *float64 `bson:"longitude,omitempty"`
	RegionID      *string  `bson:"regionId,omitempty"`
	DepartementID *string  `bson:"departementId,omitempty"`

	StoreName  *string `bson:"storeName,omitempty"`
	StoreID    *string `bson:"storeId,omitempty"`
	AgencyName *string `bson:"agencyName,omitempty"`
	IDAgence   *string `bson:"idAgence,omitempty"`

	ScrapedAt   *time.Time `bson:"scrapedAt,omitempty"`
	ProcessedAt *time.Time `bson:"processedAt,omitempty"`

	Processed     bool `bson:"processed,omitempty"`
	NoAgencyFound bool `bson:"noAgencyFound,omitempty"`
}

// LiveImages counts image slots that are not the NoImage sentinel.
func (l *Listing) LiveImages() int {
	count := 0
	for _, url := range l.Images {
		if url != NoImage {
			count++
		}
	}
	return count
}

// Agency is the professional seller behind a listing, identified by
// storeId upstream and by ID internally. The ID stays stable when the
// record is promoted from agencyBrute to agencyFinal.
type Agency struct {
	ID primitive.ObjectID `bson:"_id,omitempty"`

	StoreID string `bson:"storeId"`
	Name    string `bson:"name"`
	Lien    string `bson:"lien,omitempty"`

	CodeSiren        *string `bson:"codeSiren,omitempty"`
	Logo             *string `bson:"logo,omitempty"`
	Adresse          *string `bson:"adresse,omitempty"`
	ZoneIntervention *string `bson:"zoneIntervention,omitempty"`
	SiteWeb          *string `bson:"siteWeb,omitempty"`
	Horaires         *string `bson:"horaires,omitempty"`
	Number           *string `bson:"number,omitempty"`
	Description      *string `bson:"description,omitempty"`

	Scraped   bool       `bson:"scraped,omitempty"`
	ScrapedAt *time.Time `bson:"scrapedAt,omitempty"`
}

// Completeness counts the optional detail fields that are filled with
// something other than the NotFound sentinel. Concurrent promotions
// into agencyFinal are reconciled by "strictly higher completeness
// wins".
func (a *Agency) Completeness() int {
	score := 0
	for _, field := range []*string{
		a.CodeSiren, a.Logo, a.Adresse, a.ZoneIntervention,
		a.SiteWeb, a.Horaires, a.Number, a.Description,
	} {
		if field != nil && *field != "" && *field != NotFound {
			score++
		}
	}
	return score
}

// Blacklist is a set of storeIds whose listings and agencies must never
// reach the final collections.
type Blacklist map[string]struct{}

// DefaultBlacklist returns the built-in blocked storeIds.
func DefaultBlacklist() Blacklist {
	return Blacklist{"5608823": {}}
}

// NewBlacklist builds a blacklist from a list of storeIds.
func NewBlacklist(storeIDs []string) Blacklist {
	set := make(Blacklist, len(storeIDs))
	for _, id := range storeIDs {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports whether the storeId is blocked. A nil pointer is
// never blocked.
func (b Blacklist) Contains(storeID *string) bool {
	if storeID == nil {
		return false
	}
	_, ok := b[*storeID]
	return ok
}
