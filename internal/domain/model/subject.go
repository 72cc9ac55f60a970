package model

// Subject is a catalog entry that can be attempted in a practice round.
type Subject struct {
	ID             string
	Name           string
	Classification string

	// Capacity is the number of seats; Competitors the simulated applicants.
	Capacity    int
	Competitors int
}

// Validate checks the competition sizes used by the ranking model.
func (s Subject) Validate() error {
	if s.ID == "" {
		return NewInvalidInput("subject id is required")
	}
	if s.Capacity <= 0 {
		return NewInvalidInput("subject %s capacity must be positive", s.ID)
	}
	if s.Competitors <= 0 {
		return NewInvalidInput("subject %s competitors must be positive", s.ID)
	}
	return nil
}
