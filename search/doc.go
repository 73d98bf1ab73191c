// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package search answers questions over the indexed corpus.
//
// The Router classifies each query as FACTUAL, RELATIONAL or SEMANTIC and
// picks a retrieval mode:
//   - EXACT looks up parameter entities and their has_parameter edges
//   - GRAPH traverses relations outward from seed entities found in the query
//   - VECTOR runs a nearest-neighbor search over chunk embeddings
//   - HYBRID merges GRAPH and VECTOR results with weighted scores
//
// Every mode returns sources resolved to file and page. The Composer turns
// them into an answer, fact-checks it against the same sources and revises
// it when the audit finds unsupported claims.
package search
