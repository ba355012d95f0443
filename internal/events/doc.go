// Package events provides types and interfaces for token lifecycle events.
//
// The lifecycle manager emits an event at every state change without knowing
// who consumes it. Handlers can log, record or forward events elsewhere.
//
// The primary components are:
//   - TokenEvent: a single lifecycle transition of one token
//   - EventHandler: interface for components that can handle events
//   - EventEmitter: interface for components that can emit events
package events
