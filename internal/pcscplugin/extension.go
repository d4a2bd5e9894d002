package pcscplugin

import (
	"context"
	"fmt"

	"github.com/ebfe/scard"

	"github.com/cardresource/cardres/internal/resource"
)

// ISOSelectExtension is a resource.CardResourceProfileExtension that
// matches any card present on a reader, or, when an AID is configured,
// only a card that answers a SELECT AID with success (SW 90 00). It's
// the PC/SC analogue of the coordinator's application-based card
// selection.
type ISOSelectExtension struct {
	// AID is the ISO 7816 application identifier to select, hex-free
	// raw bytes. Nil means "match any card present, no SELECT sent".
	AID []byte
}

// MatchCard implements resource.CardResourceProfileExtension.
func (e ISOSelectExtension) MatchCard(_ context.Context, cr resource.CardReader) (resource.SmartCard, bool, error) {
	r, ok := cr.(*reader)
	if !ok {
		return nil, false, fmt.Errorf("pcscplugin: %s is not a PC/SC reader", cr.Name())
	}

	present, err := r.IsCardPresent()
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}

	card, err := r.connect()
	if err != nil {
		return nil, false, err
	}
	defer card.Disconnect(scard.LeaveCard)

	status, err := card.Status()
	if err != nil {
		return nil, false, err
	}

	if len(e.AID) == 0 {
		return smartCard{atr: status.Atr, hasATR: len(status.Atr) > 0}, true, nil
	}

	selectAPDU := buildSelectAPDU(e.AID)
	rsp, err := card.Transmit(selectAPDU)
	if err != nil {
		return nil, false, fmt.Errorf("pcscplugin: select AID: %w", err)
	}
	if !statusOK(rsp) {
		return nil, false, nil
	}

	return smartCard{
		selectResponse: rsp,
		atr:            status.Atr,
		hasATR:         len(status.Atr) > 0,
	}, true, nil
}

// buildSelectAPDU builds an ISO 7816-4 SELECT command for aid: CLA=00,
// INS=A4 (SELECT), P1=04 (select by name), P2=00, Lc=len(aid), data=aid.
func buildSelectAPDU(aid []byte) []byte {
	apdu := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	return append(apdu, aid...)
}

// statusOK reports whether rsp ends in the ISO 7816 success status
// word 90 00.
func statusOK(rsp []byte) bool {
	return len(rsp) >= 2 && rsp[len(rsp)-2] == 0x90 && rsp[len(rsp)-1] == 0x00
}
