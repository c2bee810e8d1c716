// Package corpus defines the ingested document model and its persistence.
//
// A SourceDocument records one ingested source (a file or a URL) keyed by the
// content hash of its extracted text. Repeat ingestion of identical content is
// detected through the hash, never re-embedded. The split chunk text lives in
// the vector index alongside its embedding.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Origin identifies what kind of source a document was ingested from.
type Origin string

const (
	OriginFile Origin = "file"
	OriginURL  Origin = "url"
)

// SourceDocument is one ingested source. A document only exists in the store
// once its chunks are fully indexed.
type SourceDocument struct {
	ID          uuid.UUID
	Origin      Origin
	Location    string // file path or URL
	Title       string
	ContentHash string // hex sha256 of the extracted text
	ChunkCount  int
	CreatedAt   time.Time
}

// ContentHash returns the canonical hash of extracted text, used for
// ingestion idempotence.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
