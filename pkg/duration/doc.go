// Package duration provides a generic keyed one-shot timer manager: at most
// one live timer per key, a fresh SetTimer for an already-armed key stops
// the previous timer before installing the new one, and expiry invokes a
// single registered callback with the key and whatever value was attached
// when the timer was armed.
//
// mdns-scan uses this to debounce repeated console output for the same
// device in continuous discovery mode (cmd/mdns-scan), as a printing-layer
// guard on top of the scanner's own once-per-identifier reporting.
package duration
