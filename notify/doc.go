// Package notify renders and delivers account notifications.
//
// A Message is one of a closed set of types, one per purpose. The Renderer
// turns it into a subject, a markdown text body and an HTML body from
// embedded templates. The Queue accepts messages without blocking and hands
// them to a Transport on a fixed number of consumer goroutines, retrying
// failed sends with capped exponential backoff.
//
// Delivery is best effort. Callers never see transport failures; they are
// logged and the message is dropped once retries run out.
package notify
