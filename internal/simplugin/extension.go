package simplugin

import (
	"context"
	"fmt"

	"github.com/cardresource/cardres/internal/resource"
)

// AnyCardExtension is a resource.CardResourceProfileExtension that
// matches whatever card, if any, is currently inserted via
// Plugin.InsertCard.
type AnyCardExtension struct{}

// MatchCard implements resource.CardResourceProfileExtension.
func (AnyCardExtension) MatchCard(_ context.Context, cr resource.CardReader) (resource.SmartCard, bool, error) {
	r, ok := cr.(*reader)
	if !ok {
		return nil, false, fmt.Errorf("simplugin: %s is not a simulated reader", cr.Name())
	}

	r.mu.Lock()
	present, card := r.present, r.card
	r.mu.Unlock()

	if !present {
		return nil, false, nil
	}
	return card, true, nil
}
