package interfaces

// Observer is notified of events published by a Subject.
type Observer[T any] interface {
	// OnEvent is called when an event occurs
	OnEvent(event T)
}

// Subject publishes events to its subscribed observers.
type Subject[T any] interface {
	// Subscribe adds an observer to the list of observers
	Subscribe(observer Observer[T])

	// Unsubscribe removes an observer from the list of observers
	Unsubscribe(observer Observer[T])

	// NotifyObservers notifies all registered observers of an event
	NotifyObservers(event T)
}
