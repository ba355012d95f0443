// Package domain defines the core types of the analysis token pipeline: the
// token record that tracks a single unit of submitted work, its status and
// progress, the artifact being analyzed and the opaque analysis result.
//
// The package also owns the token state machine. Every component that
// mutates a token record (the lifecycle manager and the store
// implementations) consults CanTransition so that the allowed transitions are
// defined in exactly one place.
package domain
