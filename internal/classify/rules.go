package classify

// Persona categories recognised in conversation text.
const (
	PersonaDiego   = "diego"
	PersonaCamille = "camille"
	PersonaRachel  = "rachel"
	PersonaAlvaro  = "alvaro"
	PersonaMartin  = "martin"
	PersonaMarcus  = "marcus"
	PersonaDavid   = "david"
)

// Signal categories mined from conversation text during backup.
const (
	CategoryROI                = "roi"
	CategoryPlatformAdvocate   = "platform_advocate"
	CategoryPlatformOpponent   = "platform_opponent"
	CategoryExecutiveInfluence = "executive_influence"
)

// PersonaRules detect which advisory persona a turn was addressed to.
var PersonaRules = []Rule{
	{Category: PersonaDiego, Phrases: []string{"stress-test", "stress test", "engineering leadership", "platform strategy", "diego"}},
	{Category: PersonaCamille, Phrases: []string{"organizational scaling", "technology strategy", "executive perspective", "camille"}},
	{Category: PersonaRachel, Phrases: []string{"design system", "cross-functional", "user experience", "rachel"}},
	{Category: PersonaAlvaro, Phrases: []string{"business value", "product strategy", "competitive", "alvaro"}},
	{Category: PersonaMartin, Phrases: []string{"architecture", "technical debt", "system design", "martin"}},
	{Category: PersonaMarcus, Phrases: []string{"adoption", "developer marketing", "go-to-market", "marcus"}},
	{Category: PersonaDavid, Phrases: []string{"investment", "financial", "cost analysis", "david"}},
}

// ROIRules flag business-value discussion.
var ROIRules = []Rule{
	{Category: CategoryROI, Phrases: []string{"roi", "return on investment", "budget", "investment"}},
}

// CoalitionRules flag statements about support for, or resistance to, the
// platform and about executive sway.
var CoalitionRules = []Rule{
	{Category: CategoryPlatformAdvocate, Phrases: []string{"supports platform", "platform champion", "advocate", "in favor of", "bought in"}},
	{Category: CategoryPlatformOpponent, Phrases: []string{"against platform", "opposes", "resistance", "skeptical", "pushback"}},
	{Category: CategoryExecutiveInfluence, Phrases: []string{"executive sponsor", "vice president", "the ceo", "the cto", "leadership team", "board"}},
}

// NewPersonaClassifier returns the default persona classifier.
func NewPersonaClassifier() *KeywordClassifier { return NewKeywordClassifier(PersonaRules) }

// NewROIClassifier returns the default ROI classifier.
func NewROIClassifier() *KeywordClassifier { return NewKeywordClassifier(ROIRules) }

// NewCoalitionClassifier returns the default coalition classifier.
func NewCoalitionClassifier() *KeywordClassifier { return NewKeywordClassifier(CoalitionRules) }
