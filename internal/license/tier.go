package license

import "time"

// Tier represents the licensing class assigned at issuance. It controls the
// grace-period duration after expiry and nothing else; it is unrelated to the
// source tier a component was discovered in.
type Tier string

const (
	// TierIndividual is the entry-level license class.
	TierIndividual Tier = "individual"
	// TierPro is the professional license class.
	TierPro Tier = "pro"
	// TierTeam is the team license class.
	TierTeam Tier = "team"
	// TierEnterprise is the enterprise license class.
	TierEnterprise Tier = "enterprise"
)

// ValidTiers returns all recognized license tiers.
func ValidTiers() []Tier {
	return []Tier{TierIndividual, TierPro, TierTeam, TierEnterprise}
}

// IsValid checks if the tier is a recognized value.
func (t Tier) IsValid() bool {
	for _, valid := range ValidTiers() {
		if t == valid {
			return true
		}
	}
	return false
}

// GracePeriod returns how long past expiry a license of this tier keeps
// loading. Unknown tiers get the shortest window, never the longest.
func (t Tier) GracePeriod() time.Duration {
	switch t {
	case TierTeam:
		return 72 * time.Hour
	case TierEnterprise:
		return 168 * time.Hour
	default:
		return 24 * time.Hour
	}
}
