// Package upsert merges extracted events into the normalized store.
//
// Venues are identified by (name, city), genres and promoters by name, events by
// (title, date). Records are written sequentially in batches: each batch is one
// store session, each record runs under a savepoint, and a failing record is rolled
// back on its own while the rest of the batch carries on.
package upsert
