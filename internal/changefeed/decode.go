package changefeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrDecode = errors.New("decode notification")

// Operation is the kind of row change.
type Operation int

const (
	OpUnknown Operation = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

func ParseOperation(s string) Operation {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT":
		return OpInsert
	case "UPDATE":
		return OpUpdate
	case "DELETE":
		return OpDelete
	default:
		return OpUnknown
	}
}

// Change is a decoded notification.
type Change struct {
	ID int
	Op Operation
	// RawOp is the operation string as received.
	RawOp string
}

type wireChange struct {
	ID        json.RawMessage `json:"id"`
	Operation *string         `json:"operation"`
}

// Decode parses a {"id":..,"operation":..} payload. The id may be a JSON
// number or a numeric string. An unrecognized operation decodes to
// OpUnknown without error.
func Decode(payload string) (Change, error) {
	var w wireChange
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Change{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(w.ID) == 0 || bytes.Equal(w.ID, []byte("null")) {
		return Change{}, fmt.Errorf("%w: missing id", ErrDecode)
	}
	if w.Operation == nil {
		return Change{}, fmt.Errorf("%w: missing operation", ErrDecode)
	}
	id, err := decodeID(w.ID)
	if err != nil {
		return Change{}, err
	}
	return Change{ID: id, Op: ParseOperation(*w.Operation), RawOp: *w.Operation}, nil
}

func decodeID(raw json.RawMessage) (int, error) {
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: id: %v", ErrDecode, err)
		}
	} else {
		s = string(raw)
	}
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: id %s is not an integer", ErrDecode, raw)
	}
	return id, nil
}
