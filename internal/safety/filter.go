// Package safety screens story prompts before they reach a model.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
)

// ErrRejected is returned for prompts that cannot be made suitable.
var ErrRejected = errors.New("prompt rejected by safety filter")

type Severity int

const (
	SeverityMedium Severity = iota + 1
	SeverityHigh
)

func (s Severity) String() string {
	if s == SeverityHigh {
		return "high"
	}
	return "medium"
}

// Violation is one unsuitable word found in a prompt.
type Violation struct {
	Category string
	Word     string
	Severity Severity
}

type category struct {
	name     string
	severity Severity
	words    []string
	stems    []string
}

var categories = []category{
	{
		name:     "violence",
		severity: SeverityHigh,
		words: []string{
			"şiddet", "kavga", "dövüş", "vurmak", "öldürmek", "yaralamak", "silah", "bıçak", "tabanca", "kan", "cehennem",
			"violence", "fight", "kill", "murder", "hurt", "weapon", "gun", "knife", "blood", "hell",
		},
		stems: []string{"öldür", "savaş", "kill", "murder"},
	},
	{
		name:     "scary",
		severity: SeverityMedium,
		words: []string{
			"korku", "korkunç", "canavar", "hayalet", "zombi", "ölüm", "ölmek",
			"fear", "scary", "monster", "ghost", "zombie", "death", "die", "dead", "war", "dark", "lost",
		},
		stems: []string{"korku", "fear"},
	},
	{
		name:     "inappropriate",
		severity: SeverityMedium,
		words: []string{
			"alkol", "sigara", "uyuşturucu", "kumar", "boşanmak", "ayrılık", "kızgın", "sinirli", "stres",
			"alcohol", "cigarette", "drugs", "gambling", "divorce", "separation", "angry", "stress", "adult",
		},
	},
	{
		name:     "complex_emotions",
		severity: SeverityMedium,
		words: []string{
			"depresyon", "kaygı", "endişe", "üzüntü", "yalnızlık", "kıskançlık", "nefret", "öfke", "intikam", "suçluluk",
			"depression", "anxiety", "worry", "sadness", "sad", "loneliness", "jealousy", "hate", "anger", "revenge", "guilt",
		},
	},
}

var replacements = map[string]string{
	"scary":   "funny",
	"monster": "cute animal",
	"ghost":   "firefly",
	"dark":    "starry",
	"lost":    "on an adventure",
	"sad":     "thoughtful",
	"angry":   "a little grumpy",
	"dead":    "sleeping",
	"war":     "race",
	"korkunç": "eğlenceli",
	"canavar": "sevimli hayvan",
	"hayalet": "ateş böceği",
	"kızgın":  "biraz huysuz",
}

// Filter checks prompts against word lists. High severity words reject the
// prompt; medium severity words are replaced or dropped.
type Filter struct {
	enabled bool
	maxLen  int
	blocked map[string]struct{}
	log     *slog.Logger
}

func New(cfg config.SafetyConfig, log *slog.Logger) *Filter {
	blocked := make(map[string]struct{}, len(cfg.BlockedWords))
	for _, w := range cfg.BlockedWords {
		if w = fold(strings.TrimSpace(w)); w != "" {
			blocked[w] = struct{}{}
		}
	}
	return &Filter{
		enabled: cfg.Enabled,
		maxLen:  cfg.MaxPromptLength,
		blocked: blocked,
		log:     log.With(slog.String("component", "safety")),
	}
}

// Check returns the prompt made suitable for a bedtime story, or an error
// wrapping ErrRejected.
func (f *Filter) Check(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt = strings.TrimSpace(prompt)
	if !f.enabled {
		return prompt, nil
	}
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrRejected)
	}
	if f.maxLen > 0 && utf8.RuneCountInString(prompt) > f.maxLen {
		return "", fmt.Errorf("%w: prompt longer than %d characters", ErrRejected, f.maxLen)
	}

	violations := f.Violations(prompt)
	if len(violations) == 0 {
		return prompt, nil
	}
	for _, v := range violations {
		if v.Severity == SeverityHigh {
			f.log.Warn("prompt rejected", slog.String("category", v.Category), slog.String("word", v.Word))
			return "", fmt.Errorf("%w: contains %s content", ErrRejected, v.Category)
		}
	}

	filtered := f.rewrite(prompt)
	if filtered == "" {
		return "", fmt.Errorf("%w: nothing left after filtering", ErrRejected)
	}
	f.log.Info("prompt softened", slog.Int("violations", len(violations)))
	return filtered, nil
}

// Violations lists the unsuitable words in text, one entry per occurrence.
func (f *Filter) Violations(text string) []Violation {
	var out []Violation
	for _, tok := range tokens(text) {
		if v, ok := f.classify(tok.word); ok {
			out = append(out, v)
		}
	}
	return out
}

func (f *Filter) classify(word string) (Violation, bool) {
	if _, ok := f.blocked[word]; ok {
		return Violation{Category: "blocked", Word: word, Severity: SeverityHigh}, true
	}
	// High severity categories come first.
	for _, c := range categories {
		for _, w := range c.words {
			if word == fold(w) {
				return Violation{Category: c.name, Word: word, Severity: c.severity}, true
			}
		}
		for _, s := range c.stems {
			if strings.HasPrefix(word, fold(s)) {
				return Violation{Category: c.name, Word: word, Severity: c.severity}, true
			}
		}
	}
	return Violation{}, false
}

func (f *Filter) rewrite(text string) string {
	var b strings.Builder
	last := 0
	for _, tok := range tokens(text) {
		if _, ok := f.classify(tok.word); !ok {
			continue
		}
		b.WriteString(text[last:tok.start])
		b.WriteString(foldedReplacements[tok.word])
		last = tok.end
	}
	b.WriteString(text[last:])
	return strings.Join(strings.Fields(b.String()), " ")
}

var foldedReplacements = func() map[string]string {
	out := make(map[string]string, len(replacements))
	for k, v := range replacements {
		out[fold(k)] = v
	}
	return out
}()

// fold lower-cases with Turkish rules so İ and I do not escape the word
// lists, then merges dotless ı into i so English words typed in upper case
// still match.
func fold(s string) string {
	s = strings.ToLowerSpecial(unicode.TurkishCase, s)
	return strings.Map(func(r rune) rune {
		if r == 'ı' {
			return 'i'
		}
		return r
	}, s)
}

type token struct {
	word       string
	start, end int
}

// tokens splits text into folded words with their byte offsets.
func tokens(text string) []token {
	var out []token
	start := -1
	for i, r := range text {
		letter := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		switch {
		case letter && start < 0:
			start = i
		case !letter && start >= 0:
			out = append(out, token{word: fold(text[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{word: fold(text[start:]), start: start, end: len(text)})
	}
	return out
}
