package ledger

import (
	"errors"
	"fmt"

	"GuardianScope/internal/moderation"
)

// Message kinds. A request is [kind][FlatBuffers table]; a push is
// [kindTaskPush][TaskCreated].
const (
	kindTaskRange    byte = 0x01 // Query{from, limit} -> TaskBatch
	kindSubscribe    byte = 0x02 // Query{from} -> empty, then pushes
	kindSubmit       byte = 0x03 // Vote -> Receipt
	kindRegistration byte = 0x04 // Query{operator} -> Registration
	kindOperators    byte = 0x05 // empty -> RegistrationList
	kindCreateTask   byte = 0x06 // Query{content} -> TaskCreated
	kindRegister     byte = 0x07 // Registration with proof -> empty
	kindDeregister   byte = 0x08 // Query{operator} -> empty
	kindTaskVotes    byte = 0x09 // Query{from: task} -> VoteList
	kindTaskPush     byte = 0x10 // TaskCreated, gateway to client
)

// Response status. A response is [status][payload]; for every status but
// statusOK the payload is a UTF-8 message.
const (
	statusOK        byte = 0
	statusRejected  byte = 1 // payload is the rejection reason
	statusTransient byte = 2
	statusError     byte = 3
)

func frame(kind byte, payload []byte) []byte {
	msg := make([]byte, 1+len(payload))
	msg[0] = kind
	copy(msg[1:], payload)

	return msg
}

// encodeResponse frames a handler result.
func encodeResponse(payload []byte, err error) []byte {
	if err == nil {
		return frame(statusOK, payload)
	}

	if reason := moderation.RejectionReason(err); reason != "" {
		return frame(statusRejected, []byte(reason))
	}

	if errors.Is(err, moderation.ErrTransient) {
		return frame(statusTransient, []byte(err.Error()))
	}

	return frame(statusError, []byte(err.Error()))
}

// decodeResponse unframes a response into its payload or error.
func decodeResponse(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, moderation.Transient(errors.New("empty response"))
	}

	payload := resp[1:]

	switch resp[0] {
	case statusOK:
		return payload, nil
	case statusRejected:
		return nil, moderation.Rejection(string(payload))
	case statusTransient:
		return nil, moderation.Transient(fmt.Errorf("gateway: %s", payload))
	case statusError:
		return nil, fmt.Errorf("gateway: %s", payload)
	default:
		return nil, fmt.Errorf("unknown response status: %d", resp[0])
	}
}
