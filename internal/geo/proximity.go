package geo

// Proximity bands, in kilometers of mean distance to peer sources.
const (
	bandVeryClose = 0.5
	bandClose     = 1.0
	bandNear      = 2.0
	bandVicinity  = 5.0
)

// LoneSourceProximity is the proximity given to a source with no peers.
const LoneSourceProximity = 0.8

// ProximityScore maps a mean peer distance to a score:
//   - < 0.5 km: 1.0
//   - < 1 km:   0.9
//   - < 2 km:   0.7
//   - < 5 km:   0.5
//   - otherwise 0.2
func ProximityScore(km float64) float64 {
	switch {
	case km < bandVeryClose:
		return 1.0
	case km < bandClose:
		return 0.9
	case km < bandNear:
		return 0.7
	case km < bandVicinity:
		return 0.5
	default:
		return 0.2
	}
}
