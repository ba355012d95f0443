// Package openai implements analysis.Analyzer on top of the OpenAI chat
// completions API (or any compatible endpoint configured through BaseURL).
package openai
