package resolve

import (
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/github"
)

const candidatePrompt = `You find open-source software projects mentioned in text.

The text may be an automatic transcript, so names can be misspelled or split
("oh llama" is "ollama"). Correct obvious transcription errors.

Only include self-hostable tools, libraries, and frameworks that plausibly
have a public code repository. Exclude well-known commercial services
(ChatGPT, Notion, Slack, AWS), programming languages, and generic nouns.

Respond with JSON only, at most 5 entries:
{"candidates": [{"name": "<project name>", "context": "<two or three words on what it does>"}]}

Respond {"candidates": []} when nothing qualifies.`

func validatePrompt(text string, c Candidate, r github.Repo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A piece of content mentions %q (%s).\n\n", c.Name, c.Context)
	fmt.Fprintf(&b, "Content excerpt:\n%s\n\n", excerpt(text))
	b.WriteString("Is this repository the project being referred to?\n")
	writeRepo(&b, 0, r)
	b.WriteString("\nAnswer with exactly one word: yes or no.")
	return b.String()
}

func pickPrompt(text string, c Candidate, pool []github.Repo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A piece of content mentions %q (%s).\n\n", c.Name, c.Context)
	fmt.Fprintf(&b, "Content excerpt:\n%s\n\n", excerpt(text))
	b.WriteString("Which repository is the project being referred to?\n")
	for i, r := range pool {
		writeRepo(&b, i+1, r)
	}
	b.WriteString("\nAnswer with only the number of the matching repository, or 0 if none of them match.")
	return b.String()
}

func writeRepo(b *strings.Builder, n int, r github.Repo) {
	if n > 0 {
		fmt.Fprintf(b, "%d. ", n)
	} else {
		b.WriteString("- ")
	}
	fmt.Fprintf(b, "%s (%d stars)", r.FullName, r.Stars)
	if r.Description != "" {
		fmt.Fprintf(b, ": %s", r.Description)
	}
	if len(r.Topics) > 0 {
		fmt.Fprintf(b, " [topics: %s]", strings.Join(r.Topics, ", "))
	}
	b.WriteString("\n")
}

func excerpt(text string) string {
	const max = 1500
	if len(text) <= max {
		return text
	}
	return strings.ToValidUTF8(text[:max], "") + "..."
}
