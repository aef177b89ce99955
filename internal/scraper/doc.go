// Package scraper fetches the 19hz Bay Area listing and extracts event rows from it.
//
// Fetching and extraction are separate steps: a Scraper returns the page bytes, and an
// Extractor turns any listing document into event.Raw records. Extraction is tolerant:
// a row that cannot be read is skipped with a Warning, never returned as an error.
package scraper
