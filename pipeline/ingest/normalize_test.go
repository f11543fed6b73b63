// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	raw := fetcher.RawListing{
		IDSec:           "2599363094",
		Title:           "T2 lumineux",
		Price:           price(850),
		PublicationDate: "2025-02-27 18:04:12",
		IndexDate:       "not a date",
		URL:             "https://source/ad/2599363094",
		Images:          []string{"https://img/0.jpg", "https://img/1.jpg"},
		Attributes: map[string]string{
			"Surface habitable": "45 m²",
			"Classe énergie":    "D",
			"Unknown label":     "dropped",
		},
		MultiAttributes: map[string][]string{
			"Extérieur": {"Balcon", "Jardin"},
		},
		Location: fetcher.Location{City: "Lyon", Zipcode: "69003"},
		StoreID:  "100",
	}

	l := normalize(raw, now)

	require.Equal(t, "2599363094", l.IDSec)
	require.Equal(t, 850.0, *l.Price)
	require.Equal(t, time.Date(2025, 2, 27, 18, 4, 12, 0, time.UTC), *l.PublicationDate)
	require.Nil(t, l.IndexDate, "unparseable dates are dropped, not fatal")
	require.Equal(t, "45 m²", *l.Surface)
	require.Equal(t, "D", *l.ClasseEnergie)
	require.Equal(t, []string{"Balcon", "Jardin"}, l.Exterieur)
	require.Equal(t, "Lyon", *l.City)
	require.Equal(t, "100", *l.StoreID)
	require.Equal(t, 2, l.NbrImages)
	require.Equal(t, now, *l.ScrapedAt)
	require.Nil(t, l.Meuble)
	require.False(t, l.Processed)
}
