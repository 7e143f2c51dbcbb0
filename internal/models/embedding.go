package models

// Record is a single chunk persisted in a session's vector index.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Result is a record returned by a similarity search together with its
// cosine similarity to the query.
type Result struct {
	Record
	Similarity float32
}

// Source is the provenance of one retrieved chunk as shown to callers.
type Source map[string]string

// Answer is the output of the retrieval and answering pipeline.
type Answer struct {
	Query   string   `json:"-"`
	Content string   `json:"answer"`
	Sources []Source `json:"sources"`
}
