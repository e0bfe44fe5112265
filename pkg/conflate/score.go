package conflate

import "github.com/systemed/conflation/pkg/graph"

// TopLevelKeys are the primary classification keys compared when scoring.
var TopLevelKeys = []string{
	"aeroway", "amenity", "barrier", "boundary", "building", "emergency",
	"entrance", "highway", "historic", "landuse", "leisure", "man_made",
	"natural", "office", "place", "power", "public_transport", "railway",
	"route", "shop", "traffic_sign", "tourism", "waterway",
}

// Compatibility scores how well candidate's tags agree with the feature's.
// 3 is an exact top-level match, 1 a shared top-level key, 0 no relation.
func Compatibility(feature, candidate graph.Tags) float64 {
	score := 0.0
	for _, k := range TopLevelKeys {
		if !feature.Has(k) || !candidate.Has(k) {
			continue
		}
		s := 1.0
		if feature[k] == candidate[k] {
			s = 3
		}
		if s > score {
			score = s
		}
	}

	if mk, ok := feature[HintMatchKey]; ok {
		if candidate.Has(mk) || (mk == "" && !candidate.Has(mk)) {
			score = max(score, 1)
		}
	}

	if feature["highway"] == "path" {
		switch candidate["highway"] {
		case "cycleway", "footway":
			score = 2
		}
	}
	if feature.Has("cycleway") && candidate.Has("highway") {
		score = 1.5
	}

	return score
}
