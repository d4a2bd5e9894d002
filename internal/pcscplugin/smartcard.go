package pcscplugin

// smartCard is a resource.SmartCard snapshot of whatever answered a
// SELECT (or plain connect) on a PC/SC reader: the application's
// response bytes and the card's power-on data (ATR), if the reader
// reported one.
type smartCard struct {
	selectResponse []byte
	atr            []byte
	hasATR         bool
}

// SelectApplicationResponse implements resource.SmartCard.
func (c smartCard) SelectApplicationResponse() []byte { return c.selectResponse }

// PowerOnData implements resource.SmartCard.
func (c smartCard) PowerOnData() ([]byte, bool) { return c.atr, c.hasATR }
