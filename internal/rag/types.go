package rag

// RetrievedDocument is one passage returned by the vector retriever. It is
// produced fresh per query; the only persisted form is the snapshot stored on
// an assistant chat message.
type RetrievedDocument struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Page       int     `json:"page"`
	Similarity float64 `json:"similarity"`
}

// Result is the transient outcome of one pipeline run. The caller decides
// what, if anything, to persist.
type Result struct {
	Answer        string              `json:"answer"`
	RetrievedDocs []RetrievedDocument `json:"retrieved_docs"`
	SearchQuery   string              `json:"search_query"`
}
