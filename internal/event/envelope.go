package event

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAccountOpened
	EventTypeOrderPlaced
	EventTypeOrderSettled
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
)

func (et EventType) String() string {
	switch et {
	case EventTypeAccountOpened:
		return "AccountOpened"
	case EventTypeOrderPlaced:
		return "OrderPlaced"
	case EventTypeOrderSettled:
		return "OrderSettled"
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	default:
		return "Unknown"
	}
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// Event is implemented by every payload the ledger emits after a committed mutation.
type Event interface {
	EventType() EventType
}

// Envelope wraps every emitted event.
type Envelope struct {
	EventID uuid.UUID `json:"event_id"`

	// Process-wide monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	EventType EventType `json:"event_type"`
	Owner     uuid.UUID `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`

	// Hash chains this envelope to the previous one (see core.StateHasher)
	Hash     Digest `json:"hash"`
	PrevHash Digest `json:"prev_hash"`
}

// Digest is a SHA-256 hash rendered as hex text.
type Digest [32]byte

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(d) {
		return fmt.Errorf("digest: want %d hex chars, got %d", 2*len(d), len(b))
	}
	_, err := hex.Decode(d[:], b)
	return err
}

func NewEnvelope(sequence int64, owner uuid.UUID, ts time.Time, payload Event) Envelope {
	return Envelope{
		EventID:   uuid.New(),
		Sequence:  sequence,
		EventType: payload.EventType(),
		Owner:     owner,
		Timestamp: ts,
		Payload:   payload,
	}
}
