package resource

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// CardResource pairs a reader with the smart card currently connected
// on it. Both fields are set once at construction and never change;
// a CardResource that no longer reflects reality (card removed,
// reader disconnected) is discarded, not mutated.
type CardResource struct {
	id        uuid.UUID
	reader    CardReader
	smartCard SmartCard
}

// newCardResource builds a CardResource, asserting both arguments are
// present the way the source's constructor does.
func newCardResource(reader CardReader, smartCard SmartCard) (*CardResource, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: reader must not be nil", ErrIllegalArgument)
	}
	if smartCard == nil {
		return nil, fmt.Errorf("%w: smartCard must not be nil", ErrIllegalArgument)
	}
	return &CardResource{id: uuid.New(), reader: reader, smartCard: smartCard}, nil
}

// ID uniquely identifies this CardResource for the lifetime of the
// process; used as the correlation id in logs and the release/remove
// HTTP API.
func (r *CardResource) ID() uuid.UUID { return r.id }

// Reader returns the reader this resource is attached to.
func (r *CardResource) Reader() CardReader { return r.reader }

// SmartCard returns the connected card view for this resource.
func (r *CardResource) SmartCard() SmartCard { return r.smartCard }

// String is the loggable identity used throughout the coordinator,
// generalizing the source's log-string formatting to Go idiom.
func (r *CardResource) String() string {
	return fmt.Sprintf("resource-%s reader=%s", r.id, r.reader.Name())
}

// smartCardsEquivalent implements the equivalence rule used to decide
// whether a newly presented card is "the same" card already backing a
// CardResource: identical SelectApplicationResponse, and PowerOnData
// either both absent or both present and equal.
func smartCardsEquivalent(a, b SmartCard) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !bytes.Equal(a.SelectApplicationResponse(), b.SelectApplicationResponse()) {
		return false
	}
	aPOD, aHas := a.PowerOnData()
	bPOD, bHas := b.PowerOnData()
	if aHas != bHas {
		return false
	}
	if !aHas {
		return true
	}
	return bytes.Equal(aPOD, bPOD)
}
