package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/veridoc/core"
)

// Key prefixes for different data types. Every prefix ends in a separator
// so no prefix is a prefix of another.
const (
	documentPrefix      = "doc:"
	documentHashPrefix  = "dochash:"
	chunkPrefix         = "chunk:"
	chunkDocPrefix      = "chunkdoc:"
	resultPrefix        = "result:"
	auditPrefix         = "audit:"
	entityPrefix        = "ent:"
	entityNamePrefix    = "entname:"
	relationPrefix      = "rel:"
	adjacencyPrefix     = "adj:"
	provenancePrefix    = "prov:"
	vectorPrefix        = "vec:"
	vectorDocPrefix     = "vecdoc:"
	checkpointPrefix    = "chkpt:"
	provenanceEntity    = 'e'
	provenanceRelation  = 'r'
	entityNameSeparator = 0x00
)

// appendUint64 writes v in BigEndian order so lexicographic sort matches numeric sort.
func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func idKey(prefix string, id core.ID) []byte {
	return appendUint64([]byte(prefix), uint64(id))
}

// idFromKeyTail decodes the trailing 8-byte ID of a composite key.
func idFromKeyTail(key []byte) core.ID {
	if len(key) < 8 {
		return 0
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id core.ID) []byte {
	return idKey(documentPrefix, id)
}

// makeDocumentHashKey generates the hash index key of a document.
func makeDocumentHashKey(hash string) []byte {
	return []byte(documentHashPrefix + hash)
}

// makeChunkKey generates a key for a chunk by ID. Chunk keys sort by ID.
func makeChunkKey(id core.ID) []byte {
	return idKey(chunkPrefix, id)
}

// makeChunkDocKey generates a composite key for the per-document chunk index.
// Format: prefix:documentID:page:seq:chunkID
func makeChunkDocKey(chunk *core.Chunk) []byte {
	buf := makePartialChunkDocKey(chunk.DocumentID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(chunk.Page))
	buf = binary.BigEndian.AppendUint32(buf, uint32(chunk.Seq))
	return appendUint64(buf, uint64(chunk.Id))
}

// makePartialChunkDocKey generates a partial key for document chunk queries.
func makePartialChunkDocKey(documentID core.ID) []byte {
	return idKey(chunkDocPrefix, documentID)
}

func makeResultKey(chunkID core.ID) []byte {
	return idKey(resultPrefix, chunkID)
}

func makeAuditKey(chunkID core.ID) []byte {
	return idKey(auditPrefix, chunkID)
}

func makeEntityKey(id core.ID) []byte {
	return idKey(entityPrefix, id)
}

// makeEntityNameKey generates a composite key for entity lookup by (name, type).
// Format: prefix:name\x00type
func makeEntityNameKey(name, entityType string) []byte {
	buf := makePartialEntityNameKey(name)
	return append(buf, entityType...)
}

// makePartialEntityNameKey generates a partial key matching every type of a name.
func makePartialEntityNameKey(name string) []byte {
	buf := append([]byte(entityNamePrefix), name...)
	return append(buf, entityNameSeparator)
}

func makeRelationKey(id core.ID) []byte {
	return idKey(relationPrefix, id)
}

// makeAdjacencyKey generates a composite key linking an entity to an incident relation.
// Format: prefix:entityID:relationID
func makeAdjacencyKey(entityID, relationID core.ID) []byte {
	return appendUint64(makePartialAdjacencyKey(entityID), uint64(relationID))
}

func makePartialAdjacencyKey(entityID core.ID) []byte {
	return idKey(adjacencyPrefix, entityID)
}

// makeProvenanceKey generates a composite key recording that a document
// contributes to a graph record. kind is provenanceEntity or provenanceRelation.
// Format: prefix:documentID:kind:recordID
func makeProvenanceKey(documentID core.ID, kind byte, id core.ID) []byte {
	buf := append(makePartialProvenanceKey(documentID), kind)
	return appendUint64(buf, uint64(id))
}

func makePartialProvenanceKey(documentID core.ID) []byte {
	return idKey(provenancePrefix, documentID)
}

func makeVectorKey(chunkID core.ID) []byte {
	return idKey(vectorPrefix, chunkID)
}

// makeVectorDocKey generates a composite key for the per-document vector index.
// Format: prefix:documentID:chunkID
func makeVectorDocKey(documentID, chunkID core.ID) []byte {
	return appendUint64(makePartialVectorDocKey(documentID), uint64(chunkID))
}

func makePartialVectorDocKey(documentID core.ID) []byte {
	return idKey(vectorDocPrefix, documentID)
}

// makeCheckpointKey generates a key for batch job checkpoints.
func makeCheckpointKey(name string) []byte {
	return []byte(fmt.Sprintf("%s%s", checkpointPrefix, name))
}
