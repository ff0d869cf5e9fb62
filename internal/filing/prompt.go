package filing

import (
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/item"
)

const filingPrompt = `You file saved items into a user's containers (semantic buckets).

Prefer existing containers. Propose a new container only when nothing
existing fits and the topic is likely to recur. Broad, durable names beat
narrow ones.

Respond with JSON only:
{"existing_ids": ["<id of a listed container>"], "create": [{"name": "<short name>", "description": "<one sentence>"}]}

Both lists may be empty when the item fits nowhere.`

func buildPrompt(it ItemSummary, containers []item.Container, anchors []string) string {
	var b strings.Builder
	b.WriteString("Item:\n")
	fmt.Fprintf(&b, "title: %s\n", it.Title)
	fmt.Fprintf(&b, "summary: %s\n", it.Summary)
	if it.Domain != "" {
		fmt.Fprintf(&b, "domain: %s\n", it.Domain)
	}
	if len(it.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(it.Tags, ", "))
	}

	b.WriteString("\nExisting containers:\n")
	if len(containers) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range containers {
		fmt.Fprintf(&b, "- id=%s name=%q items=%d", c.ID, c.Name, c.ItemCount)
		if c.Description != "" {
			fmt.Fprintf(&b, " description=%q", c.Description)
		}
		b.WriteString("\n")
	}

	if len(anchors) > 0 {
		fmt.Fprintf(&b, "\nThe user's main projects: %s\n", strings.Join(anchors, ", "))
	}
	return b.String()
}
