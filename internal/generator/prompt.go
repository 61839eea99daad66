package generator

import (
	"fmt"
	"strings"
)

const systemPrompt = `You write multiple-choice coding questions.
Each question must suit the difficulty level named in the request and may draw on
programming languages, CS fundamentals, data structures, algorithms, computer networks
or general computer science.

Difficulty guide:
- easy: basic syntax, simple operations, common programming concepts.
- medium: intermediate data structures, algorithms or language features.
- hard: advanced topics, design patterns, optimisation techniques or complex algorithms.

Reply with a single JSON object and nothing else:
{
  "title": "short name of the concept",
  "description": "the question text, e.g. 'What does the following code print?'",
  "code_snippet": "code to analyse, or null when the question has none",
  "options": ["first", "second", "third", "fourth"],
  "correct_answer_id": 0,
  "explanation": "why the correct option is right"
}

There are exactly four options, correct_answer_id is the zero-based index of the only
correct one, and every wrong option is plausible.`

var difficultyFocus = map[string]string{
	"easy":   "basic syntax or a simple operation",
	"medium": "an intermediate data structure or algorithm",
	"hard":   "an advanced topic or design pattern",
}

func userPrompt(difficulty string) string {
	level := strings.ToLower(strings.TrimSpace(difficulty))
	if focus, ok := difficultyFocus[level]; ok {
		return fmt.Sprintf("Generate a %s difficulty coding challenge about %s.", level, focus)
	}
	return fmt.Sprintf("Generate a %s difficulty coding challenge.", difficulty)
}

// cleanJSONContent strips Markdown code fences some models wrap around JSON.
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
