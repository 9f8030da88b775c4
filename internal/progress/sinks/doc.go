// Package sinks implements progress consumers. Each sink satisfies the
// progress.Sink interface.
package sinks
