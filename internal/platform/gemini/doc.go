// Package gemini provides an implementation of the analysis.Analyzer interface
// backed by Google's Gemini API.
//
// This package is an infrastructure adapter: it renders an artifact into a
// prompt, asks the model for a JSON object and hands that object back to the
// lifecycle manager as an opaque result.
//
// Key components:
//
// 1. Analyzer:
//   - Implements the analysis.Analyzer interface
//   - Uses the google.golang.org/genai client in JSON response mode
//
// 2. Error Handling:
//   - Retries transient failures (rate limits, 5xx, network errors) with
//     exponential backoff and jitter
//   - Reports safety blocks and unparseable output as permanent errors
package gemini
