package rag

import (
	"github.com/tmc/langchaingo/prompts"

	"github.com/hyperjump/kiku/internal/llm"
)

// answerTemplate is rendered by the stuff-documents chain. Retrieved chunks are
// joined into .context; the labels are the ones llm.Mock reads.
const answerTemplate = `Use the following pieces of context to answer the question at the end.
If you don't know the answer, just say that you don't know, don't try to make up an answer.

` + llm.ContextLabel + `

{{.context}}

` + llm.QuestionLabel + ` {{.question}}
Helpful Answer:`

func answerPrompt() prompts.PromptTemplate {
	return prompts.NewPromptTemplate(answerTemplate, []string{"context", "question"})
}
