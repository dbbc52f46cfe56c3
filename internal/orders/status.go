package orders

type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusConfirmed       Status = "CONFIRMED"
	StatusEnRoute         Status = "EN_ROUTE"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
)

// validNext constrains the automatic paths only (webhook, sweeper).
// Admin writes bypass it, see Repo.SetStatus.
var validNext = map[Status]map[Status]bool{
	StatusAwaitingPayment: {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress:      {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:       {StatusEnRoute: true, StatusCancelled: true},
	StatusEnRoute:         {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:       {},
	StatusCancelled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
