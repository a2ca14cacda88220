package events

import "io"

// SubscriptionOpt configures a subscription. See BufSize and
// MatchFieldValue.
type SubscriptionOpt func(*subSettings) error

// Subscription is the receiving end of one or more event types.
type Subscription interface {
	io.Closer

	// Out returns the channel from which to consume events.
	Out() <-chan interface{}
}

// Bus routes events to subscribers by their type. Trades, offers and
// the wallet publish on it.
type Bus interface {
	// Subscribe creates a new Subscription. eventType is a pointer to
	// the event type, or a slice of such pointers to receive several
	// types on one channel:
	//
	//  sub, err := bus.Subscribe(&TradeStateChanged{}, MatchFieldValue("TradeID", id))
	//  defer sub.Close()
	//  e := (<-sub.Out()).(*TradeStateChanged)
	Subscribe(eventType interface{}, opts ...SubscriptionOpt) (Subscription, error)

	// Emit delivers evt to every matching subscriber. It blocks while
	// a subscriber's channel is full.
	Emit(evt interface{})
}
