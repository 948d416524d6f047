package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies an inbound event variant.
type Kind string

const (
	KindUserRegistered      Kind = "UserRegistered"
	KindSubscriptionCharged Kind = "SubscriptionCharged"
	KindPointsPurchased     Kind = "PointsPurchased"
	KindPointsGranted       Kind = "PointsGranted"
)

var ErrUnknownKind = errors.New("unknown inbound event kind")

// Inbound is the closed set of events the router reacts to. Every variant
// carries the user it applies to and a deduplication id so redelivery is
// detectable.
type Inbound interface {
	Kind() Kind
	User() string
	Dedup() string
}

type UserRegistered struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

func (e UserRegistered) Kind() Kind { return KindUserRegistered }
func (e UserRegistered) User() string { return e.UserID }
func (e UserRegistered) Dedup() string { return e.EventID }

type SubscriptionCharged struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Cost    int64  `json:"cost"`
}

func (e SubscriptionCharged) Kind() Kind { return KindSubscriptionCharged }
func (e SubscriptionCharged) User() string { return e.UserID }
func (e SubscriptionCharged) Dedup() string { return e.EventID }

type PointsPurchased struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
}

func (e PointsPurchased) Kind() Kind { return KindPointsPurchased }
func (e PointsPurchased) User() string { return e.UserID }
func (e PointsPurchased) Dedup() string { return e.EventID }

type PointsGranted struct {
	EventID    string `json:"event_id"`
	UserID     string `json:"user_id"`
	Amount     int64  `json:"amount"`
	Subscribed bool   `json:"subscribed"`
}

func (e PointsGranted) Kind() Kind { return KindPointsGranted }
func (e PointsGranted) User() string { return e.UserID }
func (e PointsGranted) Dedup() string { return e.EventID }

// DecodeInbound parses a message payload into its typed variant. The kind
// comes from the message header, not the body, so producers stay free to
// evolve payloads independently.
func DecodeInbound(kind string, payload []byte) (Inbound, error) {
	switch Kind(strings.TrimSpace(kind)) {
	case KindUserRegistered:
		var e UserRegistered
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return e, nil
	case KindSubscriptionCharged:
		var e SubscriptionCharged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return e, nil
	case KindPointsPurchased:
		var e PointsPurchased
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return e, nil
	case KindPointsGranted:
		var e PointsGranted
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
