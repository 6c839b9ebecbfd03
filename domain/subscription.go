package domain

// Subscription is a handle to one topic of a multiplexed stream client.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Topic       string
}
