package models

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
	DefaultTopK         = 10

	// metadata keys attached to every stored record
	MetaFilename   = "filename"
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_count"
	MetaUploadedAt = "uploaded_at"
	MetaScore      = "score"

	DefaultFilename = "document"

	NoRelevantInformation = "No relevant information found."
	RefusalPhrase         = "I couldn't find this in the provided document."

	ContextSeparator = "\n\n"
)

var (
	SystemPrompt = `You answer strictly from the provided Context derived from the current document(s). ` +
		`If the answer is not found in the Context, reply: "` + RefusalPhrase + `" ` +
		`Be concise and only include information present in the Context. Do not use external knowledge.`

	ContextBlockTemplate = "[From %s]:\n%s"

	QuestionPromptTemplate = `Context from the uploaded documents:
%s

Question: %s

Answer based only on the context above:`
)
