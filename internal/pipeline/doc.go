// Package pipeline runs the scrape, extract, geocode, upsert and prune stages as one
// serialized run, either on a fixed interval or on demand.
package pipeline
