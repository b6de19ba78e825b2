package domain

// ModerationDecision is the answer of a community's posting rules for one author
type ModerationDecision struct {
	Allowed bool
	Reason  string // Set when not allowed
}
