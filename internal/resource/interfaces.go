// Package resource implements the card resource allocation coordinator:
// readers and pool plugins are matched against profiles and handed out
// to callers as CardResource values, tracked through their whole
// connect/lock/release/disconnect lifecycle.
package resource

import "context"

// CardReader is the minimum surface the coordinator needs from a
// physical or virtual reader: a stable name and the ability to check
// whether a card is currently present.
type CardReader interface {
	Name() string
	IsCardPresent() (bool, error)
}

// SmartCard is the card connected on a CardReader at the moment it was
// selected. SelectApplicationResponse and PowerOnData are the only two
// fields the coordinator ever compares, per the smart card equivalence
// rule.
type SmartCard interface {
	SelectApplicationResponse() []byte
	PowerOnData() ([]byte, bool)
}

// Plugin is a source of CardReaders. A regular plugin's reader set is
// enumerated once at start; new readers are only discovered through
// plugin/reader observation events if the plugin is also observable.
type Plugin interface {
	Name() string
	Readers() ([]CardReader, error)
}

// PoolPlugin hands out readers on demand instead of exposing a fixed
// set, e.g. a farm of readers shared across many services.
type PoolPlugin interface {
	Name() string
	AllocateReader(readerGroupReference string) (CardReader, error)
	ReleaseReader(reader CardReader) error
}

// PluginEventType enumerates the kinds of events an ObservablePlugin
// can raise about its reader population.
type PluginEventType int

const (
	ReaderConnected PluginEventType = iota
	ReaderDisconnected
)

// PluginEvent describes a reader joining or leaving an observable
// plugin's population.
type PluginEvent struct {
	PluginName string
	ReaderName string
	Type       PluginEventType
}

// PluginObserver receives PluginEvents from an ObservablePlugin.
type PluginObserver interface {
	OnPluginEvent(event PluginEvent)
}

// PluginObservationExceptionHandler is notified when a background
// observation goroutine for a plugin fails.
type PluginObservationExceptionHandler interface {
	OnPluginObservationError(pluginName string, err error)
}

// ObservablePlugin is a Plugin that can notify observers of readers
// joining or leaving its population.
type ObservablePlugin interface {
	Plugin
	AddObserver(observer PluginObserver)
	RemoveObserver(observer PluginObserver)
	SetExceptionHandler(handler PluginObservationExceptionHandler)
	StartReaderDetection()
	StopReaderDetection()
}

// CardReaderEventType enumerates the kinds of events an
// ObservableCardReader can raise about the card sitting in it. This
// collapses the source's four-value CARD_INSERTED/CARD_MATCHED/
// CARD_REMOVED/UNREGISTERED enum to two: CARD_MATCHED folds into
// CardInserted (matching is re-checked lazily in getOrCreateCardResourceLocked
// rather than trusted from the event), and UNREGISTERED folds into
// CardRemoved (a reader going away is handled the same way as its card
// being pulled).
type CardReaderEventType int

const (
	CardInserted CardReaderEventType = iota
	CardRemoved
)

// CardReaderEvent describes a card being inserted into or removed from
// an observable reader.
type CardReaderEvent struct {
	ReaderName string
	Type       CardReaderEventType
}

// CardReaderObserver receives CardReaderEvents from an
// ObservableCardReader.
type CardReaderObserver interface {
	OnCardReaderEvent(event CardReaderEvent)
}

// CardReaderObservationExceptionHandler is notified when a background
// observation goroutine for a reader fails.
type CardReaderObservationExceptionHandler interface {
	OnCardReaderObservationError(readerName string, err error)
}

// ObservableCardReader is a CardReader that can notify observers of
// card insertion/removal without being polled.
type ObservableCardReader interface {
	CardReader
	AddObserver(observer CardReaderObserver)
	RemoveObserver(observer CardReaderObserver)
	SetExceptionHandler(handler CardReaderObservationExceptionHandler)
	StartCardDetection()
	StopCardDetection()
}

// CardResourceProfileExtension is the caller-supplied oracle deciding
// whether a card presented on a reader matches a profile, and if so
// producing the SmartCard view of it.
type CardResourceProfileExtension interface {
	MatchCard(ctx context.Context, reader CardReader) (SmartCard, bool, error)
}

// ReaderConfiguratorSpi performs one-time setup on a reader the first
// time the coordinator sees it (transmission protocol, timeouts, etc).
type ReaderConfiguratorSpi interface {
	SetupReader(reader CardReader) error
}
