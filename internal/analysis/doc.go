// Package analysis defines the boundary between the token lifecycle and the
// backends that actually inspect an artifact. An Analyzer receives the stored
// artifact and returns an opaque JSON result; the lifecycle manager never
// looks inside it.
//
// The package also carries what every backend shares: the error taxonomy,
// retry with exponential backoff, prompt templating for LLM backends, a
// deterministic StaticAnalyzer and a SchemaValidator decorator.
package analysis
