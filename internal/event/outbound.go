package event

import "encoding/json"

// Outbound is an immutable fact about a committed balance transition. The
// router stages outbound events in the outbox within the same transaction
// as the mutation that produced them.
type Outbound interface {
	Topic() string
	Type() string
	User() string
	Payload() ([]byte, error)
}

type PointsRegistered struct {
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Subscribed bool   `json:"subscribed"`
	NewBalance int64  `json:"new_balance"`
}

func (e PointsRegistered) User() string { return e.UserID }
func (e PointsRegistered) Topic() string { return TopicPointsRegistered }
func (e PointsRegistered) Type() string { return "PointsRegistered" }
func (e PointsRegistered) Payload() ([]byte, error) { return json.Marshal(e) }

type PointsDecreased struct {
	UserID     string `json:"user_id"`
	NewBalance int64  `json:"new_balance"`
}

func (e PointsDecreased) User() string { return e.UserID }
func (e PointsDecreased) Topic() string { return TopicPointsDecreased }
func (e PointsDecreased) Type() string { return "PointsDecreased" }
func (e PointsDecreased) Payload() ([]byte, error) { return json.Marshal(e) }

type PointsPurchaseCompleted struct {
	UserID      string `json:"user_id"`
	NewBalance  int64  `json:"new_balance"`
	AmountSpent int64  `json:"amount_spent"`
}

func (e PointsPurchaseCompleted) User() string { return e.UserID }
func (e PointsPurchaseCompleted) Topic() string { return TopicPointsPurchaseCompleted }
func (e PointsPurchaseCompleted) Type() string { return "PointsPurchaseCompleted" }
func (e PointsPurchaseCompleted) Payload() ([]byte, error) { return json.Marshal(e) }

type InsufficientBalance struct {
	UserID         string `json:"user_id"`
	AttemptedCost  int64  `json:"attempted_cost"`
	CurrentBalance int64  `json:"current_balance"`
}

func (e InsufficientBalance) User() string { return e.UserID }
func (e InsufficientBalance) Topic() string { return TopicInsufficientBalance }
func (e InsufficientBalance) Type() string { return "InsufficientBalance" }
func (e InsufficientBalance) Payload() ([]byte, error) { return json.Marshal(e) }
