package geo

import (
	"sort"

	"github.com/civitas311/backend/internal/models"
	"github.com/civitas311/backend/internal/utils"
)

// RankedCrew is a crew paired with its great-circle distance in kilometers
// from the query origin.
type RankedCrew struct {
	Crew       models.Crew `json:"crew"`
	DistanceKm float64     `json:"distance_km"`
}

// NearestCrews returns up to k crews ordered by ascending distance from
// (lat, lng). Crews without stored coordinates are excluded. Ties keep the
// input order. Status is not filtered here; callers decide whether inactive
// crews are usable.
func NearestCrews(lat, lng float64, crews []models.Crew, k int) []RankedCrew {
	if k <= 0 {
		return nil
	}

	ranked := make([]RankedCrew, 0, len(crews))
	for _, c := range crews {
		if !c.HasLocation() {
			continue
		}
		ranked = append(ranked, RankedCrew{
			Crew:       c,
			DistanceKm: utils.HaversineKm(lat, lng, *c.Lat, *c.Lng),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
