package ratelimit

// Profile tunes the exploration/exploitation balance and how fast the
// estimator tracks new evidence.
type Profile struct {
	Name         string
	ExploreRate  float64 // probability of probing below the learned base
	LearningRate float64 // EMA alpha for blending new estimates
}

// ProfileBalanced is the default profile.
func ProfileBalanced() Profile {
	return Profile{Name: "balanced", ExploreRate: 0.1, LearningRate: 0.3}
}

// ProfileConservative halves exploration and damps learning; suited to
// engines that ban aggressively.
func ProfileConservative() Profile {
	return Profile{Name: "conservative", ExploreRate: 0.05, LearningRate: 0.15}
}

// ProfileAggressive explores more and adapts faster; suited to self-hosted
// engines where over-waiting is the only cost.
func ProfileAggressive() Profile {
	return Profile{Name: "aggressive", ExploreRate: 0.2, LearningRate: 0.5}
}

// ProfileByName resolves a profile name, falling back to balanced.
func ProfileByName(name string) Profile {
	switch name {
	case "conservative":
		return ProfileConservative()
	case "aggressive":
		return ProfileAggressive()
	default:
		return ProfileBalanced()
	}
}
