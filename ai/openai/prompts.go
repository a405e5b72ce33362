package openai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a helpful assistant that answers questions based on provided context from documents.

Instructions:
1. Answer the question based ONLY on the provided context
2. If the context doesn't contain relevant information, say "I couldn't find relevant information in the provided documents."
3. Cite which sources you used in your answer
4. Be concise but comprehensive
5. If the question is ambiguous, ask for clarification`

const userPromptTemplate = `Context from documents:

%s

---

Question: %s

Please provide a comprehensive answer based on the context above. If you reference specific information, indicate which source it came from.`

// buildUserPrompt places the retrieved passages ahead of the question.
func buildUserPrompt(question, passages string) string {
	return fmt.Sprintf(userPromptTemplate, sanitize(passages), strings.TrimSpace(question))
}
