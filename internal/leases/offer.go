package leases

// SteppedOffer calculates the rent offer for a negotiation round.
// Each round reduces the offer by 2% of the maximum rent; once the
// next step would undercut the minimum, the offer stays at the last
// step that is still at or above it.
func SteppedOffer(maxRent, minRent float64, iteration int) float64 {
	if iteration < 0 {
		iteration = 0
	}
	reductionPerStep := maxRent * 0.02
	proposed := maxRent - reductionPerStep*float64(iteration)
	if proposed < minRent {
		if reductionPerStep <= 0 {
			return maxRent
		}
		maxIterations := int((maxRent - minRent) / reductionPerStep)
		return maxRent - reductionPerStep*float64(maxIterations)
	}
	return proposed
}
