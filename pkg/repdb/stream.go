package repdb

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Change is one item in a replication event stream: a single bound SQL
// statement and the sequence number the event log assigned to it.
type Change struct {
	Sequence  uint64
	Statement string
}

// EventStream is an ordered series of database changes. Sequence numbers
// are strictly increasing in iteration order.
type EventStream struct {
	Changes []Change
}

// HighestSequence returns the largest sequence number in the stream.
// The second return value is false for an empty stream.
func (s *EventStream) HighestSequence() (uint64, bool) {
	if len(s.Changes) == 0 {
		return 0, false
	}
	high := s.Changes[0].Sequence
	for _, c := range s.Changes[1:] {
		if c.Sequence > high {
			high = c.Sequence
		}
	}
	return high, true
}

// Size returns the total length in bytes of the statement text in the
// stream. This is the same accounting the replication service applies to
// each observed mutation: codec overhead is ignored because statement
// text dominates. (The service seeds its count at startup from the
// encoded length instead.)
func (s *EventStream) Size() int {
	n := 0
	for _, c := range s.Changes {
		n += len(c.Statement)
	}
	return n
}

// eventRecord is the wire form of a Change: a two-element CBOR array of
// sequence number and UTF-8 statement bytes.
type eventRecord struct {
	_         struct{} `cbor:",toarray"`
	Sequence  uint64
	Statement []byte
}

type eventStreamDoc struct {
	Events []eventRecord `cbor:"events"`
}

// ToBytes encodes the stream as a CBOR map {"events": [[seq, stmt], ...]}
// with entries in ascending sequence order.
func (s *EventStream) ToBytes() ([]byte, error) {
	doc := eventStreamDoc{Events: make([]eventRecord, 0, len(s.Changes))}
	for _, c := range s.Changes {
		doc.Events = append(doc.Events, eventRecord{
			Sequence:  c.Sequence,
			Statement: []byte(c.Statement),
		})
	}
	return cbor.Marshal(doc)
}

// EventStreamFromBytes decodes data produced by a prior ToBytes call.
func EventStreamFromBytes(data []byte) (*EventStream, error) {
	var doc eventStreamDoc
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode event stream: %w", err)
	}
	stream := &EventStream{Changes: make([]Change, 0, len(doc.Events))}
	for _, e := range doc.Events {
		stream.Changes = append(stream.Changes, Change{
			Sequence:  e.Sequence,
			Statement: string(e.Statement),
		})
	}
	return stream, nil
}
