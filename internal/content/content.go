// Package content selects post and reply text from per-topic template pools.
package content

import (
	"math/rand"
	"time"
)

// defaultTemplates seed the generator; config can override or extend them.
var defaultTemplates = map[string][]string{
	"power-platform": {
		"Quick tip for Power Platform builders: keep flows modular and document triggers. Small wins compound.",
		"Power BI + Power Automate = fast insights and faster action. What combo do you use most?",
		"Power Apps component libraries save so much rebuild time. Investing in reusable patterns pays off.",
		"Dataverse relationships enable so much - start with the data model and the rest follows.",
	},
	"data-viz": {
		"Data viz tip: label directly, minimize legends. Clarity > cleverness.",
		"DAX calculations can be powerful - keep measures tidy and reusable.",
		"Interactive dashboards shine when they answer questions before users ask.",
		"Color choice matters: use contrast intentionally and test for accessibility.",
	},
	"automation": {
		"Automate the boring parts first. Start with high-frequency, low-risk tasks.",
		"Workflow automation shines when paired with good naming and error alerts.",
		"Build small, test early, then scale. Automation compounds when it's reliable.",
		"Document your flows - future you (or your team) will thank you.",
	},
	"ai": {
		"AI is a tool, not magic. Frame the problem first, then pick the model.",
		"Prompt engineering matters: be specific, give context, iterate.",
		"Model hallucinations remind us: always validate outputs for critical use cases.",
		"Fine-tuning can beat prompt tricks when you have domain-specific data.",
	},
}

// defaultFallback is used when a topic has no template pool.
const defaultFallback = "Sharing a quick note on automation and data."

var defaultReplies = []string{
	"Nice point! What's your favorite resource on this?",
	"Interesting! How are you handling edge cases?",
	"Love this - curious how you track success over time.",
	"Great insight! Have you documented this approach anywhere?",
	"This resonates. Any gotchas you hit along the way?",
	"Solid tip! How long did it take to see results?",
}

// Generator picks random templates. Safe zero-ish construction via New.
type Generator struct {
	templates map[string][]string
	replies   []string
	fallback  string
	rng       *rand.Rand
}

// New builds a generator. Custom template pools merge over the defaults so a
// config that only defines one topic still gets the built-in pools for the
// rest. Passing nil/empty leaves the defaults intact.
func New(custom map[string][]string, customReplies []string) *Generator {
	templates := make(map[string][]string, len(defaultTemplates)+len(custom))
	for topic, pool := range defaultTemplates {
		templates[topic] = pool
	}
	for topic, pool := range custom {
		if len(pool) > 0 {
			templates[topic] = pool
		}
	}
	replies := defaultReplies
	if len(customReplies) > 0 {
		replies = customReplies
	}
	return &Generator{
		templates: templates,
		replies:   replies,
		fallback:  defaultFallback,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ChooseTemplate returns a random template for the topic, or the fallback
// line when the topic has no pool.
func (g *Generator) ChooseTemplate(topic string) string {
	pool, ok := g.templates[topic]
	if !ok || len(pool) == 0 {
		return g.fallback
	}
	return pool[g.rng.Intn(len(pool))]
}

// MakePost produces post text for the topic. The slot and media flag are
// accepted so slot-aware pools can be added without changing callers; media
// selection is not implemented and the returned path is always empty.
func (g *Generator) MakePost(topic, slot string, allowMedia bool) (text, mediaPath string) {
	return g.ChooseTemplate(topic), ""
}

// HelpfulReply returns a random reply line. The base text argument is
// reserved for context-aware replies.
func (g *Generator) HelpfulReply(baseText string) string {
	return g.replies[g.rng.Intn(len(g.replies))]
}

// Topics lists the topics with a template pool.
func (g *Generator) Topics() []string {
	out := make([]string, 0, len(g.templates))
	for topic := range g.templates {
		out = append(out, topic)
	}
	return out
}
