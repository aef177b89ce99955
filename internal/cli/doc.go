// Package cli implements the command-line interface for sf-events.
//
// The root command loads configuration and logging; subcommands run the pipeline once
// (scrape), on a schedule with the HTTP surface (serve), or a single stage of it
// (extract, geocode, prune, migrate, stats).
package cli
