// Package stream carries live generation events from workers to listeners.
//
// Each task gets one topic ("chat:" + task id) holding an ordered sequence of
// typed events: start, progress, token, ..., then exactly one terminal event
// (complete or error). Delivery is at-most-once with no replay: a subscriber
// attached after an event was published never sees it. Clients that need the
// full output read the store instead.
//
// RedisBroker is the production implementation; MemoryBroker serves tests and
// single-process runs. Both close a subscription's channel after delivering a
// terminal event, so relays can range over Events() without watching for
// stream shape themselves.
package stream
