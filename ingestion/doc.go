// Package ingestion turns layout blocks into audited knowledge.
//
// A document flows through these stages:
//   - NormalizeBlocks merges raw layout blocks into paragraph chunks and
//     marks table candidates
//   - Classifier assigns each chunk a tier from a term list and prototype
//     similarity
//   - Dispatcher routes each chunk to its extractor; RED chunks are verified
//     by the Arbiter with two passes and, on disagreement, one arbitration
//   - EntityNormalizer maps extracted triples and parameters to canonical
//     entities and relations
//   - Writer upserts chunks, results, graph facts and vectors, and removes
//     them again on cleanup
//
// Pipeline runs these stages over a bounded ants worker pool. Model failures
// never abort a document: the affected chunk is stored as FLAGGED. Only
// store write failures (ErrStoreWrite) are fatal.
package ingestion
