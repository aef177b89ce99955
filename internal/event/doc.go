// Package event provides the transient record produced by the extractor.
//
// A Raw record is one listing row after cell-level parsing and before it is
// normalized into venues, genres and promoters by the upsert engine. Optional
// fields are pointers so "absent" stays distinguishable from "empty".
package event
