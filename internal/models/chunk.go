package models

// Metadata keys attached to every chunk.
const (
	MetaSubject     = "subject"
	MetaUnit        = "unit"
	MetaSourceFile  = "source_file"
	MetaChunkIndex  = "chunk_index"
	MetaChunkSize   = "chunk_size"
	MetaTotalChunks = "total_chunks"
)

// Chunk is a bounded passage of source text with provenance metadata.
// ID is empty until the chunk is stored in an index.
type Chunk struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Candidate is a chunk returned by a similarity search.
// Score is the relevance assigned by the reranker; before reranking it equals SimilarityScore.
type Candidate struct {
	ID              string            `json:"id"`
	Content         string            `json:"content"`
	Metadata        map[string]string `json:"metadata"`
	SimilarityScore float64           `json:"similarity_score"`
	Distance        float64           `json:"distance"`
	Score           float64           `json:"score"`
}

// IndexInfo summarizes what an index holds. The sets are derived from a sample
// of at most InfoSampleSize items, so they can be incomplete for large indexes.
type IndexInfo struct {
	Collection  string   `json:"collection"`
	Location    string   `json:"location"`
	Count       int      `json:"count"`
	Subjects    []string `json:"subjects"`
	Units       []string `json:"units"`
	SourceFiles []string `json:"source_files"`
}

// InfoSampleSize bounds how many stored items are inspected by Info.
const InfoSampleSize = 1000

// Filter is an equality conjunction over metadata fields.
type Filter map[string]string

// Matches reports whether every filter key is present in md with an equal value.
func (f Filter) Matches(md map[string]string) bool {
	for k, v := range f {
		if got, ok := md[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// CloneMetadata returns a shallow copy so callers never share metadata maps.
func CloneMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
