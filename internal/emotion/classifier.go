package emotion

import (
	"regexp"
)

// Label is a discrete affect classification of a user message.
type Label string

const (
	Neutral     Label = "neutral"
	Concerned   Label = "concerned"
	Frustrated  Label = "frustrated"
	Celebratory Label = "celebratory"
)

// labelOrder fixes scoring order; the first label reaching the highest
// nonzero score wins a tie.
var labelOrder = []Label{Concerned, Frustrated, Celebratory}

// patternTable maps each label to its lexical and punctuation patterns.
// Patterns are tuned for technical support conversations. Kept declarative so
// the tables can be extended without touching the matcher.
var patternTable = map[Label][]string{
	Concerned: {
		`(?i)\b(error|fail|cannot|can't|not working|broken|issue|problem|help|stuck|unable)\b`,
		`(?i)\b(lost|missing|afraid|worried|bad|terrible|sorry)\b`,
	},
	Frustrated: {
		`(?i)\b(again|repeatedly|stupid|hate|annoying|slow|useless|wtf|why|over and over)\b`,
		`(!){2,}|\?{2,}`,
	},
	Celebratory: {
		`(?i)\b(thanks|thank you|solved|works|working|great|awesome|excellent|perfect|finally|appreciate)\b`,
		`(?i)\b(success|congrats|congratulations|happy|glad)\b`,
	},
}

// directiveTable maps each label to a fixed style directive handed to the
// generation engine.
var directiveTable = map[Label]string{
	Neutral:     "Respond professionally and concisely.",
	Concerned:   "Respond calmly and reassuringly. Prioritize a solution.",
	Frustrated:  "Respond with patience and directness. Acknowledge the frustration.",
	Celebratory: "Respond warmly and professionally. Maintain the positive tone.",
}

// Directive returns the fixed style directive for a label.
func Directive(label Label) string {
	return directiveTable[label]
}

// Classifier scores text against the per-label pattern tables. It holds only
// compiled patterns and is safe for concurrent use.
type Classifier struct {
	patterns map[Label][]*regexp.Regexp
}

// NewClassifier compiles the pattern tables once.
func NewClassifier() *Classifier {
	compiled := make(map[Label][]*regexp.Regexp, len(patternTable))
	for label, exprs := range patternTable {
		ps := make([]*regexp.Regexp, 0, len(exprs))
		for _, expr := range exprs {
			ps = append(ps, regexp.MustCompile(expr))
		}
		compiled[label] = ps
	}
	return &Classifier{patterns: compiled}
}

// Analyze returns the winning label and its style directive. The score of a
// label is the count of non-overlapping matches across all its patterns.
// All-zero scores resolve to Neutral; nonzero ties resolve to the earliest
// label in labelOrder.
func (c *Classifier) Analyze(text string) (Label, string) {
	if text == "" {
		return Neutral, directiveTable[Neutral]
	}

	best := Neutral
	bestScore := 0
	for _, label := range labelOrder {
		score := 0
		for _, p := range c.patterns[label] {
			score += len(p.FindAllStringIndex(text, -1))
		}
		if score > bestScore {
			best = label
			bestScore = score
		}
	}
	return best, directiveTable[best]
}
