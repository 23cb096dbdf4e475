// Package emotion classifies free text into a coarse primary emotion using a
// fixed keyword table.
//
// Each emotion's keywords are matched as whole words, case-insensitively, and
// every occurrence counts. The emotion with the most hits wins, ties go to the
// emotion declared first in Order, and confidence is the winner's share of
// all hits. Text with no hits is Neutral with zero confidence.
package emotion

import "regexp"

// Emotion is a detected emotional state.
type Emotion string

const (
	Anxious  Emotion = "anxious"
	Sad      Emotion = "sad"
	Angry    Emotion = "angry"
	Joyful   Emotion = "joyful"
	Confused Emotion = "confused"
	Hopeful  Emotion = "hopeful"
	Neutral  Emotion = "neutral"
)

// Order is the declaration order of the detectable emotions. It breaks ties.
var Order = []Emotion{Anxious, Sad, Angry, Joyful, Confused, Hopeful}

// Keywords is the fixed keyword table.
var Keywords = map[Emotion][]string{
	Anxious: {
		"anxious", "anxiety", "worried", "worry", "worrying", "nervous",
		"scared", "afraid", "fear", "panic", "stressed", "stress", "overwhelmed",
	},
	Sad: {
		"sad", "depressed", "lonely", "grief", "grieving", "crying", "cry",
		"hurt", "heartbroken", "hopeless", "sorrow", "mourning",
	},
	Angry: {
		"angry", "mad", "furious", "frustrated", "annoyed", "hate", "rage",
		"upset", "irritated", "resentful",
	},
	Joyful: {
		"happy", "joy", "joyful", "excited", "grateful", "thankful", "blessed",
		"wonderful", "amazing", "delighted", "glad",
	},
	Confused: {
		"confused", "confusing", "unsure", "uncertain", "lost", "doubt",
		"doubts", "don't understand", "dont understand", "unclear",
	},
	Hopeful: {
		"hope", "hopeful", "hoping", "optimistic", "looking forward",
		"trust", "faith", "encouraged",
	},
}

// Result is the outcome of classifying one text.
type Result struct {
	Primary    Emotion         `json:"primaryEmotion"`
	Confidence float64         `json:"confidence"`
	Counts     map[Emotion]int `json:"counts"`
}

// Classifier classifies text using a compiled keyword table.
// The zero value is not usable; use New or Default.
type Classifier struct {
	patterns map[Emotion]*regexp.Regexp
	order    []Emotion
}

var defaultClassifier = New(Keywords, Order)

// Default returns the classifier built from the package keyword table.
func Default() *Classifier {
	return defaultClassifier
}

// Classify runs the default classifier over text.
func Classify(text string) Result {
	return defaultClassifier.Classify(text)
}

// New compiles a classifier from a keyword table. Emotions absent from order
// are ignored.
func New(keywords map[Emotion][]string, order []Emotion) *Classifier {
	c := &Classifier{
		patterns: make(map[Emotion]*regexp.Regexp, len(order)),
		order:    append([]Emotion(nil), order...),
	}
	for _, e := range order {
		words := keywords[e]
		if len(words) == 0 {
			continue
		}
		alt := ""
		for i, w := range words {
			if i > 0 {
				alt += "|"
			}
			alt += regexp.QuoteMeta(w)
		}
		c.patterns[e] = regexp.MustCompile(`(?i)\b(?:` + alt + `)\b`)
	}
	return c
}

// Classify counts keyword hits per emotion and picks the primary emotion.
func (c *Classifier) Classify(text string) Result {
	res := Result{Primary: Neutral, Counts: make(map[Emotion]int, len(c.order))}

	total, best := 0, 0
	for _, e := range c.order {
		p, ok := c.patterns[e]
		if !ok {
			res.Counts[e] = 0
			continue
		}
		n := len(p.FindAllStringIndex(text, -1))
		res.Counts[e] = n
		total += n
		// Strictly greater keeps the first-declared emotion on ties.
		if n > best {
			best = n
			res.Primary = e
		}
	}

	if total > 0 {
		res.Confidence = float64(best) / float64(total)
	}
	return res
}
