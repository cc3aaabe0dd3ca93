package domain

// CanonicalStatus is the carrier-agnostic classification of a tracking event.
type CanonicalStatus string

const (
	StatusLabelCreated   CanonicalStatus = "LABEL_CREATED"
	StatusPickedUp       CanonicalStatus = "PICKED_UP"
	StatusInTransit      CanonicalStatus = "IN_TRANSIT"
	StatusOutForDelivery CanonicalStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      CanonicalStatus = "DELIVERED"
	StatusException      CanonicalStatus = "EXCEPTION"
	StatusReturned       CanonicalStatus = "RETURNED"
	StatusCancelled      CanonicalStatus = "CANCELLED"
)

// progressRank orders the delivery-progress statuses. EXCEPTION, RETURNED and
// CANCELLED have no progress rank.
var progressRank = map[CanonicalStatus]int{
	StatusLabelCreated:   1,
	StatusPickedUp:       2,
	StatusInTransit:      3,
	StatusOutForDelivery: 4,
	StatusDelivered:      5,
}

// terminalTieRank is used only to break timestamp ties: a terminal status
// outranks every progress status reported at the same instant.
const terminalTieRank = 6

// Valid reports whether s is one of the canonical statuses.
func (s CanonicalStatus) Valid() bool {
	switch s {
	case StatusLabelCreated, StatusPickedUp, StatusInTransit, StatusOutForDelivery,
		StatusDelivered, StatusException, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// Rank returns the delivery-progress rank, or 0 when the status is not on the
// progress chain.
func (s CanonicalStatus) Rank() int {
	return progressRank[s]
}

// IsProgress reports whether s sits on the LABEL_CREATED..DELIVERED chain.
func (s CanonicalStatus) IsProgress() bool {
	return progressRank[s] > 0
}

// IsTerminal reports whether s locks the record against regressions.
func (s CanonicalStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// TieRank is the comparison key used when two events share a timestamp.
func (s CanonicalStatus) TieRank() int {
	if s == StatusReturned || s == StatusCancelled {
		return terminalTieRank
	}
	return progressRank[s]
}

// State is the tagged value the transition detector compares: the progress or
// terminal status plus the orthogonal exception flag.
type State struct {
	Status    CanonicalStatus `json:"status"`
	Exception bool            `json:"exception"`
}
