package capability

import (
	"encoding/json"
	"fmt"
	"strings"
)

const screenSystemPrompt = `You screen news items for a weekly digest.
Active topics: %s.
%s
Score every item from 0 to 10 for how strongly it belongs in the digest: 0 is off-topic noise, 10 is a must-include story. Give a one-line reason.
Respond with a valid JSON object and nothing else:
{"results": [{"id": "<id>", "score": <0-10>, "reasoning": "<one line>"}]}
Return exactly one result per input item, using the input ids unchanged.`

const screenUserPrompt = `Items:
%s`

const evalSystemPrompt = `You are the final editor of a weekly digest.
Active topics: %s.
%s
Rate the item on each dimension from 1 to 10:
%s
Respond with a valid JSON object and nothing else:
{"id": "<id>", "dimension_scores": {"<dimension>": <1-10>}}`

const evalUserPrompt = `ID: %s
Title: %s

Content (first %d chars):
%s`

const entitySystemPrompt = `Extract named entities from a news item. Use the most common canonical spelling for each entity and drop duplicates.
Respond with a valid JSON object and nothing else:
{"companies": [], "models": [], "people": [], "locations": [], "other": []}
"models" holds AI models, products and software releases.`

const entityUserPrompt = `Title: %s

Content (first %d chars):
%s`

var dimensionHelp = map[string]string{
	"relevance":     "how closely the item matches the active topics",
	"significance":  "how much the news matters to the field",
	"novelty":       "how new the information is compared with earlier coverage",
	"credibility":   "how trustworthy the source and claims are",
	"actionability": "how useful it is for a reader deciding what to do next",
}

func topicList(topics []string) string {
	if len(topics) == 0 {
		return "general technology news"
	}
	return strings.Join(topics, ", ")
}

func contextLine(extra string) string {
	if strings.TrimSpace(extra) == "" {
		return ""
	}
	return "Editorial context: " + strings.TrimSpace(extra)
}

func screenSystem(topics []string, extra string) string {
	return fmt.Sprintf(screenSystemPrompt, topicList(topics), contextLine(extra))
}

func screenUser(reqs []ScreenRequest) (string, error) {
	data, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(screenUserPrompt, data), nil
}

func evalSystem(topics []string, extra string, dims []string) string {
	var b strings.Builder
	for _, d := range dims {
		b.WriteString("- ")
		b.WriteString(d)
		if help, ok := dimensionHelp[d]; ok {
			b.WriteString(": ")
			b.WriteString(help)
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(evalSystemPrompt, topicList(topics), contextLine(extra), strings.TrimRight(b.String(), "\n"))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
