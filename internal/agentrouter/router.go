// Package agentrouter maps an inbound message to one of the five agent
// profiles via explicit @-prefix selection or weighted keyword scoring
// (spec §4.3).
package agentrouter

import (
	"strings"
)

// Profile is a static agent definition (§3 Agent Profile).
type Profile struct {
	ID               string
	Name             string
	SystemPrompt     string
	ToolsEnabled     bool
	PreferredModel   string
	MaxCharsByDevice map[string]int
}

// Default five runtime agents (§3).
var (
	Assistant  = Profile{ID: "assistant", Name: "Assistant", ToolsEnabled: true, SystemPrompt: "You are a helpful general-purpose assistant."}
	Researcher = Profile{ID: "researcher", Name: "Researcher", ToolsEnabled: true, SystemPrompt: "You are a research specialist; prefer web search before answering."}
	Coder      = Profile{ID: "coder", Name: "Coder", ToolsEnabled: false, PreferredModel: "claude-sonnet-4-6", SystemPrompt: "You are a coding specialist."}
	Analyst    = Profile{ID: "analyst", Name: "Analyst", ToolsEnabled: true, SystemPrompt: "You are a data analysis specialist."}
	Creative   = Profile{ID: "creative", Name: "Creative", ToolsEnabled: false, SystemPrompt: "You are a creative writing specialist."}
)

// Profiles indexes the five default agents by id.
var Profiles = map[string]Profile{
	Assistant.ID:  Assistant,
	Researcher.ID: Researcher,
	Coder.ID:      Coder,
	Analyst.ID:    Analyst,
	Creative.ID:   Creative,
}

// scoringAgent pairs a profile id with its keyword weight table.
type scoringAgent struct {
	id       string
	keywords map[string]int // keyword -> weight (1, 2, or 3)
}

// keywordTable is the hand-tuned weighted keyword set for the four
// scoring agents (researcher, coder, analyst, creative); assistant is
// never scored directly — it's the score-too-low fallback.
var keywordTable = []scoringAgent{
	{id: Researcher.ID, keywords: map[string]int{
		"research": 3, "search": 2, "find information": 3, "look up": 2,
		"latest": 2, "news": 2, "study": 1, "source": 1, "cite": 2, "investigate": 3,
	}},
	{id: Coder.ID, keywords: map[string]int{
		"code": 3, "function": 2, "bug": 2, "debug": 3, "refactor": 2,
		"compile": 2, "syntax": 2, "algorithm": 2, "programming": 3, "script": 1,
	}},
	{id: Analyst.ID, keywords: map[string]int{
		"analyze": 3, "data": 2, "statistics": 3, "chart": 2, "trend": 2,
		"metric": 2, "report": 1, "forecast": 2, "correlation": 3, "dataset": 2,
	}},
	{id: Creative.ID, keywords: map[string]int{
		"story": 3, "poem": 3, "creative": 2, "write a": 1, "imagine": 2,
		"fiction": 3, "character": 2, "plot": 2, "lyrics": 3, "metaphor": 2,
	}},
}

const keywordScoreThreshold = 2
const lowercaseScanBytes = 256

// Route implements §4.3: explicit @<id> selection first, then weighted
// keyword scoring over the four scoring agents, falling back to
// assistant when nothing scores >= 2.
func Route(message string) (profile Profile, cleaned string, score int) {
	trimmed := strings.TrimSpace(message)

	if strings.HasPrefix(trimmed, "@") {
		rest := trimmed[1:]
		spaceIdx := strings.IndexAny(rest, " \t\n")
		var id, remainder string
		if spaceIdx < 0 {
			id, remainder = rest, ""
		} else {
			id, remainder = rest[:spaceIdx], strings.TrimSpace(rest[spaceIdx+1:])
		}
		if p, ok := Profiles[id]; ok {
			return p, remainder, 100
		}
	}

	scanned := safeLowerPrefix(trimmed, lowercaseScanBytes)

	bestID := ""
	bestScore := 0
	for _, agent := range keywordTable {
		s := 0
		for kw, weight := range agent.keywords {
			if strings.Contains(scanned, kw) {
				s += weight
			}
		}
		if s > bestScore {
			bestScore = s
			bestID = agent.id
		}
	}

	if bestScore < keywordScoreThreshold {
		return Assistant, trimmed, 0
	}
	return Profiles[bestID], trimmed, bestScore
}

// safeLowerPrefix lowercases the first n bytes of s without splitting a
// multi-byte UTF-8 rune (§4.3: "char-boundary-safe").
func safeLowerPrefix(s string, n int) string {
	if len(s) <= n {
		return strings.ToLower(s)
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return strings.ToLower(s[:n])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
