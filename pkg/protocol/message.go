package protocol

import (
    "errors"
    "fmt"
    "strconv"
    "strings"
)

var ErrMalformedPayload = errors.New("malformed payload")

const fieldSep = ";"

type MessageType uint8

const (
    SearchMessage MessageType = iota
    FoundMessage
)

func (t MessageType) String() string {
    switch t {
    case SearchMessage:
        return "SEARCH"
    case FoundMessage:
        return "FOUND"
    default:
        return fmt.Sprintf("MessageType(%d)", uint8(t))
    }
}

// Direction is the way a search travels around the ring. It is fixed by the
// originator and never changes at intermediate hops.
type Direction uint8

const (
    Clockwise Direction = iota + 1
    CounterClockwise
)

func (d Direction) String() string {
    switch d {
    case Clockwise:
        return "HORARIO"
    case CounterClockwise:
        return "ANTIHORARIO"
    default:
        return fmt.Sprintf("Direction(%d)", uint8(d))
    }
}

// ParseDirection accepts the wire tokens and their English aliases, in any
// case. It is meant for user input; Parse only takes the exact wire tokens.
func ParseDirection(s string) (Direction, error) {
    switch strings.ToUpper(strings.TrimSpace(s)) {
    case "HORARIO", "CLOCKWISE":
        return Clockwise, nil
    case "ANTIHORARIO", "COUNTERCLOCKWISE":
        return CounterClockwise, nil
    default:
        return 0, fmt.Errorf("%w: unknown direction %q", ErrMalformedPayload, s)
    }
}

func directionFromWire(s string) (Direction, error) {
    switch s {
    case Clockwise.String():
        return Clockwise, nil
    case CounterClockwise.String():
        return CounterClockwise, nil
    default:
        return 0, fmt.Errorf("%w: unknown direction %q", ErrMalformedPayload, s)
    }
}

// Message is either a *Search or a *Found.
type Message interface {
    Type() MessageType
    Marshal() ([]byte, error)
    isMessage()
}

type Search struct {
    FileID     string
    OriginID   string
    OriginHost string
    OriginPort int
    Direction  Direction
}

func (*Search) Type() MessageType { return SearchMessage }
func (*Search) isMessage()        {}

func (m *Search) Marshal() ([]byte, error) {
    if m.Direction != Clockwise && m.Direction != CounterClockwise {
        return nil, fmt.Errorf("%w: unknown direction %v", ErrMalformedPayload, m.Direction)
    }
    if m.OriginPort < 1 || m.OriginPort > 65535 {
        return nil, fmt.Errorf("%w: origin port %d out of range", ErrMalformedPayload, m.OriginPort)
    }
    return join(SearchMessage.String(), m.FileID, m.OriginID, m.OriginHost, strconv.Itoa(m.OriginPort), m.Direction.String())
}

type Found struct {
    FileID     string
    ResolverID string
}

func (*Found) Type() MessageType { return FoundMessage }
func (*Found) isMessage()        {}

func (m *Found) Marshal() ([]byte, error) {
    return join(FoundMessage.String(), m.FileID, m.ResolverID)
}

// Parse decodes a decrypted payload. Field count is fixed per message type.
func Parse(payload []byte) (Message, error) {
    fields := strings.Split(string(payload), fieldSep)

    switch fields[0] {
    case SearchMessage.String():
        if len(fields) != 6 {
            return nil, fmt.Errorf("%w: SEARCH expects 6 fields, got %d", ErrMalformedPayload, len(fields))
        }
        if err := nonEmpty(fields[1:]); err != nil {
            return nil, err
        }
        port, err := strconv.Atoi(fields[4])
        if err != nil || port < 1 || port > 65535 {
            return nil, fmt.Errorf("%w: invalid origin port %q", ErrMalformedPayload, fields[4])
        }
        dir, err := directionFromWire(fields[5])
        if err != nil {
            return nil, err
        }
        return &Search{
            FileID:     fields[1],
            OriginID:   fields[2],
            OriginHost: fields[3],
            OriginPort: port,
            Direction:  dir,
        }, nil

    case FoundMessage.String():
        if len(fields) != 3 {
            return nil, fmt.Errorf("%w: FOUND expects 3 fields, got %d", ErrMalformedPayload, len(fields))
        }
        if err := nonEmpty(fields[1:]); err != nil {
            return nil, err
        }
        return &Found{FileID: fields[1], ResolverID: fields[2]}, nil

    default:
        return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedPayload, fields[0])
    }
}

func join(fields ...string) ([]byte, error) {
    if err := nonEmpty(fields); err != nil {
        return nil, err
    }
    for _, f := range fields {
        if strings.ContainsAny(f, fieldSep+"\r\n") {
            return nil, fmt.Errorf("%w: field %q contains a reserved character", ErrMalformedPayload, f)
        }
    }
    return []byte(strings.Join(fields, fieldSep)), nil
}

func nonEmpty(fields []string) error {
    for i, f := range fields {
        if f == "" {
            return fmt.Errorf("%w: empty field %d", ErrMalformedPayload, i+1)
        }
    }
    return nil
}
