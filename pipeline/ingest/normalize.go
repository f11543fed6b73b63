// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package ingest

import (
	"time"

	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/listing"
)

// sourceTimeLayout is the date format the source serves.
const sourceTimeLayout = "2006-01-02 15:04:05"

// attributeFields maps the source's labeled attributes onto listing
// fields.
var attributeFields = map[string]func(*listing.Listing, *string){
	"Type de bien":                    func(l *listing.Listing, v *string) { l.TypeBien = v },
	"Meublé / Non meublé":             func(l *listing.Listing, v *string) { l.Meuble = v },
	"Surface habitable":               func(l *listing.Listing, v *string) { l.Surface = v },
	"Nombre de pièces":                func(l *listing.Listing, v *string) { l.NombreDePiece = v },
	"Nombre de chambres":              func(l *listing.Listing, v *string) { l.NombreChambres = v },
	"Nombre de salles d'eau":          func(l *listing.Listing, v *string) { l.NombreSalleEau = v },
	"Nb. de salles de bain":           func(l *listing.Listing, v *string) { l.NbSallesDeBain = v },
	"Nb. de parkings":                 func(l *listing.Listing, v *string) { l.NbParkings = v },
	"Nb. de niveaux":                  func(l *listing.Listing, v *string) { l.NbNiveaux = v },
	"Disponible à partir de":          func(l *listing.Listing, v *string) { l.Disponibilite = v },
	"Année de construction":           func(l *listing.Listing, v *string) { l.AnneeConstruction = v },
	"Classe énergie":                  func(l *listing.Listing, v *string) { l.ClasseEnergie = v },
	"GES":                             func(l *listing.Listing, v *string) { l.GES = v },
	"Ascenseur":                       func(l *listing.Listing, v *string) { l.Ascenseur = v },
	"Étage de votre bien":             func(l *listing.Listing, v *string) { l.Etage = v },
	"Nombre d'étages dans l'immeuble": func(l *listing.Listing, v *string) { l.NombreEtages = v },
	"Charges incluses":                func(l *listing.Listing, v *string) { l.ChargesIncluses = v },
	"Dépôt de garantie":               func(l *listing.Listing, v *string) { l.DepotGarantie = v },
	"Loyer mensuel charges comprises": func(l *listing.Listing, v *string) { l.LoyerMensuel = v },
}

// normalize turns a parsed source record into the typed listing stored
// in the raw collection. Unparseable dates are dropped rather than
// failing the record.
func normalize(raw fetcher.RawListing, now time.Time) listing.Listing {
	l := listing.Listing{
		IDSec: raw.IDSec,
		Title: raw.Title,
		Price: raw.Price,

		PublicationDate: parseSourceTime(raw.PublicationDate),
		IndexDate:       parseSourceTime(raw.IndexDate),
		ExpirationDate:  parseSourceTime(raw.ExpirationDate),

		Status:       optional(raw.Status),
		AdType:       optional(raw.AdType),
		Body:         optional(raw.Body),
		URL:          raw.URL,
		CategoryID:   optional(raw.CategoryID),
		CategoryName: optional(raw.CategoryName),

		Images:    raw.Images,
		NbrImages: len(raw.Images),

		Region:        optional(raw.Location.Region),
		City:          optional(raw.Location.City),
		Zipcode:       optional(raw.Location.Zipcode),
		Departement:   optional(raw.Location.Departement),
		Latitude:      raw.Location.Latitude,
		Longitude:     raw.Location.Longitude,
		RegionID:      optional(raw.Location.RegionID),
		DepartementID: optional(raw.Location.DepartementID),

		StoreID:    optional(raw.StoreID),
		StoreName:  optional(raw.StoreName),
		AgencyName: optional(raw.StoreName),

		ScrapedAt: &now,
	}
	if raw.NbrImages > l.NbrImages {
		l.NbrImages = raw.NbrImages
	}

	for label, set := range attributeFields {
		if value, ok := raw.Attributes[label]; ok && value != "" {
			set(&l, optional(value))
		}
	}
	if values := raw.MultiAttributes["Extérieur"]; len(values) > 0 {
		l.Exterieur = values
	}
	if values := raw.MultiAttributes["Caractéristiques"]; len(values) > 0 {
		l.Caracteristiques = values
	}
	return l
}

func parseSourceTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(sourceTimeLayout, value)
	if err != nil {
		return nil
	}
	return &t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
