package models

const (
	ThinkTag        = `(?s)<think>.*?</think>`
	CitationRegex   = `\[S(\d+)\]`
	SourceTagFormat = "[S%d]"
	NoAnswerMessage = "Sorry, I couldn't find the answer in the given information."
)

var (
	AnswerPromptTemplate = `You are an intelligent assistant. Use only the provided context to answer the user's question.
Each context passage starts with a source tag such as [S1]. Cite the tags of the passages you used, inline, right after the statement they support.
If the answer is not in the context, reply: "{{.refusal}}"

Context:
{{.context}}

Question: {{.question}}

Answer:`

	ExpansionPromptTemplate = `Rewrite the search query below in {{.count}} different ways that keep its meaning.
Use synonyms or rephrase it. Return one rewrite per line and nothing else.

Query: {{.query}}`

	RelevancePromptTemplate = `Rate how relevant the passage is for answering the query on a scale from 0 to 10.
Answer only with the number.

Query: {{.query}}

Passage:
{{.passage}}

Score:`
)
