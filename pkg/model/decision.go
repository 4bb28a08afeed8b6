package model

// DecisionKind tells whether an entry changed the profile
type DecisionKind int

const (
	DecisionNoChange DecisionKind = iota
	DecisionUpdated
)

// NoUpdateMarker is the completion response meaning "nothing worth keeping".
// It is matched after trimming surrounding whitespace, case-sensitively.
const NoUpdateMarker = "NO_UPDATE"

// Decision is the transient outcome of evaluating one log entry
type Decision struct {
	Kind    DecisionKind
	Content string
}

// Updated returns a decision replacing the profile content
func Updated(content string) Decision {
	return Decision{Kind: DecisionUpdated, Content: content}
}

// NoChange returns a decision that only advances the checkpoint
func NoChange() Decision {
	return Decision{Kind: DecisionNoChange}
}

func (d Decision) String() string {
	if d.Kind == DecisionUpdated {
		return "updated"
	}
	return "no_change"
}
