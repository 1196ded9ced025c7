package creditscore

import (
	"strconv"

	"tierlend/core/types"
	"tierlend/crypto"
)

const (
	// EventTypeScoreUpdated is emitted whenever a profile or admin score
	// changes.
	EventTypeScoreUpdated = "creditscore.updated"
	// EventTypeProofRejected is emitted when the verification oracle
	// declines a submitted proof.
	EventTypeProofRejected = "creditscore.proofRejected"
)

// EventRecord is the typed event payload handed to the configured sink.
type EventRecord = types.Event

func newScoreUpdatedEvent(addr crypto.Address, score uint64, source string) *EventRecord {
	return &types.Event{
		Type: EventTypeScoreUpdated,
		Attributes: map[string]string{
			"address": addr.String(),
			"score":   strconv.FormatUint(score, 10),
			"source":  source,
		},
	}
}

func newProofRejectedEvent(addr crypto.Address, kind string) *EventRecord {
	return &types.Event{
		Type: EventTypeProofRejected,
		Attributes: map[string]string{
			"address": addr.String(),
			"kind":    kind,
		},
	}
}
