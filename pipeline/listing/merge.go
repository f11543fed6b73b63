// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package listing

import "time"

// MergeMissing fills dst's unset fields from src. Fields dst already
// carries are left alone; the image set, counters and stage flags are
// always taken from src because src is the freshly processed record.
// The dst identity (_id) is never touched.
func MergeMissing(dst, src *Listing) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Price == nil {
		dst.Price = src.Price
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}

	mergeTime(&dst.PublicationDate, src.PublicationDate)
	mergeTime(&dst.IndexDate, src.IndexDate)
	mergeTime(&dst.ExpirationDate, src.ExpirationDate)
	mergeTime(&dst.ScrapedAt, src.ScrapedAt)

	for _, pair := range []struct{ dst **string; src *string }{
		{&dst.Status, src.Status},
		{&dst.AdType, src.AdType},
		{&dst.Description, src.Description},
		{&dst.Body, src.Body},
		{&dst.CategoryID, src.CategoryID},
		{&dst.CategoryName, src.CategoryName},
		{&dst.TypeBien, src.TypeBien},
		{&dst.Meuble, src.Meuble},
		{&dst.Surface, src.Surface},
		{&dst.NombreDePiece, src.NombreDePiece},
		{&dst.NombreChambres, src.NombreChambres},
		{&dst.NombreSalleEau, src.NombreSalleEau},
		{&dst.NbSallesDeBain, src.NbSallesDeBain},
		{&dst.NbParkings, src.NbParkings},
		{&dst.NbNiveaux, src.NbNiveaux},
		{&dst.Disponibilite, src.Disponibilite},
		{&dst.AnneeConstruction, src.AnneeConstruction},
		{&dst.ClasseEnergie, src.ClasseEnergie},
		{&dst.GES, src.GES},
		{&dst.Ascenseur, src.Ascenseur},
		{&dst.Etage, src.Etage},
		{&dst.NombreEtages, src.NombreEtages},
		{&dst.ChargesIncluses, src.ChargesIncluses},
		{&dst.DepotGarantie, src.DepotGarantie},
		{&dst.LoyerMensuel, src.LoyerMensuel},
		{&dst.Region, src.Region},
		{&dst.City, src.City},
		{&dst.Zipcode, src.Zipcode},
		{&dst.Departement, src.Departement},
		{&dst.RegionID, src.RegionID},
		{&dst.DepartementID, src.DepartementID},
		{&dst.StoreName, src.StoreName},
		{&dst.StoreID, src.StoreID},
		{&dst.AgencyName, src.AgencyName},
		{&dst.IDAgence, src.IDAgence},
	} {
		if *pair.dst == nil {
			*pair.dst = pair.src
		}
	}

	if dst.Latitude == nil {
		dst.Latitude = src.Latitude
	}
	if dst.Longitude == nil {
		dst.Longitude = src.Longitude
	}
	if len(dst.Exterieur) == 0 {
		dst.Exterieur = src.Exterieur
	}
	if len(dst.Caracteristiques) == 0 {
		dst.Caracteristiques = src.Caracteristiques
	}

	dst.Images = src.Images
	dst.NbrImages = src.NbrImages
	dst.Processed = src.Processed
	dst.ProcessedAt = src.ProcessedAt
	dst.NoAgencyFound = src.NoAgencyFound
}

func mergeTime(dst **time.Time, src *time.Time) {
	if *dst == nil {
		*dst = src
	}
}
