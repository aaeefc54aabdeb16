// Package pipeline runs one night's linking end to end: pairwise tracklet
// finding, collapsing, optional post-filtering and output selection.
//
// This package is the composition root for the linking stages. It imports
// finder, collapse and postfilter, but none of those import pipeline.
// Persistence is reached only through the Sink interface so storage
// packages can depend on pipeline's Result without a cycle.
package pipeline
