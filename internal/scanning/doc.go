// Package scanning is the engine of ipscanner.
//
// A scan walks an address range produced by a Feeder. The Dispatcher hands
// every address, wrapped in a Subject, to a bounded worker pool where the
// Scanner runs the selected fetchers in column order and writes one value
// per fetcher into the host's Result. Results are collected in a ResultList
// in the order the feeder produced them.
//
// # Lifecycle
//
// Every scan is driven by a StateMachine:
//
//	IDLE -> STARTING -> SCANNING -> STOPPING -> KILLING -> COMPLETE -> IDLE
//	IDLE -> RESTARTING -> SCANNING ...
//
// Listeners are notified synchronously and in registration order. A
// transition requested from inside a listener is delivered after the current
// round, so listeners may drive the machine without deadlocking.
//
// Stopping is cooperative: the dispatcher stops feeding and waits for hosts
// in flight. Killing cancels the scan context, which every probe receives,
// and force-closes sockets registered in the ResourceBinder.
//
// # Values
//
// Fetchers return plain values, nil when nothing was found, or one of the
// NotAvailable and NotScanned markers. IntegerWithUnit and NumericRangeList
// render the common composite values.
package scanning
