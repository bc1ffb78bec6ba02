package sessionctx

// Presence weights per category, in hundredths. They sum to 100.
const (
	weightStakeholder = 25
	weightInitiatives = 20
	weightExecutive   = 20
	weightROI         = 15
	weightCoalition   = 10
	weightPersonas    = 10
)

// QualityFromPresence scores c by which structured categories are non-empty.
// One item in a category counts the same as many.
func QualityFromPresence(c Context) float64 {
	var score int
	if len(c.Stakeholder) > 0 {
		score += weightStakeholder
	}
	if len(c.Initiatives) > 0 {
		score += weightInitiatives
	}
	if len(c.Executive) > 0 {
		score += weightExecutive
	}
	if len(c.ROIDiscussions) > 0 {
		score += weightROI
	}
	if len(c.CoalitionMapping) > 0 {
		score += weightCoalition
	}
	if len(c.ActivePersonas) > 0 {
		score += weightPersonas
	}
	return float64(score) / 100
}

// ActivityCounts are the turn-level signals used by QualityFromActivityCounts.
type ActivityCounts struct {
	Turns     int
	Personas  int
	Mentions  int
	Topics    int
	Decisions int
}

// QualityFromActivityCounts is the mean of five normalized counts, each capped at 1.
func QualityFromActivityCounts(a ActivityCounts) float64 {
	signals := []float64{
		ratio(a.Turns, 10),
		ratio(a.Personas, 3),
		ratio(a.Mentions, 5),
		ratio(a.Topics, 5),
		ratio(a.Decisions, 3),
	}
	var sum float64
	for _, s := range signals {
		sum += s
	}
	return sum / float64(len(signals))
}

func ratio(n, denom int) float64 {
	if n <= 0 {
		return 0
	}
	r := float64(n) / float64(denom)
	if r > 1 {
		return 1
	}
	return r
}
