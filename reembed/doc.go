// Package reembed rebuilds the vector points of every indexed chunk with
// the current embedding model.
//
// Chunks are read in ID order in fixed-size batches. Each batch is embedded
// with retry and exponential backoff, normalized for cosine similarity and
// upserted. A checkpoint is saved after every batch so an interrupted run
// can resume where it stopped.
package reembed
