package events

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON form of an event on the message broker.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes an event into its envelope.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal %s event: %w", ev.Kind(), err)
	}

	return json.Marshal(Envelope{Kind: ev.Kind(), Payload: payload})
}

// Unmarshal decodes an envelope into the event of its kind.
func Unmarshal(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("cannot unmarshal event envelope: %w", err)
	}

	switch env.Kind {
	case KindFundingReady:
		return decode[FundingReady](env.Payload)
	case KindPaymentReceived:
		return decode[PaymentReceived](env.Payload)
	case KindPaymentSent:
		return decode[PaymentSent](env.Payload)
	case KindPaymentFailed:
		return decode[PaymentFailed](env.Payload)
	case KindPaymentForwarded:
		return decode[PaymentForwarded](env.Payload)
	case KindPendingHTLCsForwardable:
		return decode[PendingHTLCsForwardable](env.Payload)
	case KindSpendableOutputs:
		return decode[SpendableOutputs](env.Payload)
	case KindChannelClosed:
		return decode[ChannelClosed](env.Payload)
	case KindOpenChannelRequest:
		return decode[OpenChannelRequest](env.Payload)
	case KindDiscardFunding:
		return decode[DiscardFunding](env.Payload)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
}

func decode[T Event](raw json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("cannot unmarshal %s event: %w", ev.Kind(), err)
	}

	return ev, nil
}
