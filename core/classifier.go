package core

import "strings"

// Category is the symbology class of an aircraft.
type Category int

const (
	CategoryCivilian Category = iota
	CategoryMilitary
)

// Symbol colours per category.
const (
	CivilianColor = "#00d4ff"
	MilitaryColor = "#ff3355"
)

// DefaultMilitaryPrefixes are callsign prefixes used by military and
// government flights (airlift, special air missions, air forces).
var DefaultMilitaryPrefixes = []string{
	"RCH", "MCE", "SAM", "VENUS", "CHAOS", "SPAR", "GAF", "RRR", "DUKE", "STEEL", "BARON",
}

func (c Category) String() string {
	if c == CategoryMilitary {
		return "military"
	}
	return "civilian"
}

// Color returns the symbol colour for the category.
func (c Category) Color() string {
	if c == CategoryMilitary {
		return MilitaryColor
	}
	return CivilianColor
}

// Classifier maps callsigns to categories by anchored prefix match.
type Classifier struct {
	prefixes []string
}

// NewClassifier builds a classifier over the given prefixes. Prefixes are
// matched case-insensitively; blank entries are ignored. A nil or empty
// list uses DefaultMilitaryPrefixes.
func NewClassifier(prefixes []string) *Classifier {
	if len(prefixes) == 0 {
		prefixes = DefaultMilitaryPrefixes
	}
	c := &Classifier{prefixes: make([]string, 0, len(prefixes))}
	for _, p := range prefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			c.prefixes = append(c.prefixes, p)
		}
	}
	return c
}

// Classify returns the category for a callsign. A nil or blank callsign is
// civilian.
func (c *Classifier) Classify(callsign *string) Category {
	if callsign == nil {
		return CategoryCivilian
	}
	call := strings.ToUpper(strings.TrimSpace(*callsign))
	if call == "" {
		return CategoryCivilian
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(call, p) {
			return CategoryMilitary
		}
	}
	return CategoryCivilian
}

var defaultClassifier = NewClassifier(nil)

// ClassifyCallsign classifies a callsign against the default prefixes.
func ClassifyCallsign(callsign string) Category {
	return defaultClassifier.Classify(&callsign)
}

// IsMilitary reports whether the callsign matches a default military prefix.
func IsMilitary(callsign *string) bool {
	return defaultClassifier.Classify(callsign) == CategoryMilitary
}
