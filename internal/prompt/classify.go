package prompt

import (
	"math"
	"regexp"
	"strings"

	"github.com/verdin-ai/verdin/pkg/models"
)

// proThreshold is the complexity score above which a prompt is routed to
// the expensive tier.
const proThreshold = 4.5

// codePatterns are structural markers of logic-heavy prompts. Matching any
// one of them contributes a single flat bonus.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`def\s+\w+\(.*\):`),
	regexp.MustCompile(`class\s+\w+[:\(]`),
	regexp.MustCompile(`import\s+\w+`),
	regexp.MustCompile(`[\{\}\[\]]{3,}`),
	regexp.MustCompile(`(\+\+|--|&&|\|\|)`),
	regexp.MustCompile(`(\w+\s*=\s*\w+;)`),
}

// complexKeywords are STEM/reasoning markers with weights.
var complexKeywords = map[string]float64{
	"analyze": 1.5, "calculate": 2.0, "reason": 1.8,
	"optimize": 2.0, "architect": 2.5, "debug": 2.0,
	"theorem": 2.5, "derivative": 2.0, "gradient": 2.0,
	"asymptotic": 3.0, "complexity": 1.5,
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)
var wordPattern = regexp.MustCompile(`\w+`)

// Score is the triage result for one prompt.
type Score struct {
	Total             float64          `json:"total_score"`
	LexicalDensity    float64          `json:"lexical_density"`
	AvgSentenceLength float64          `json:"avg_sentence_length"`
	Tier              models.ModelTier `json:"tier"`
}

// Scorer rates prompt complexity from 0 (easy, cheap tier) to 10 (hard,
// expensive tier).
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score rates the text and recommends a model tier.
func (s *Scorer) Score(text string) Score {
	if strings.TrimSpace(text) == "" {
		return Score{Tier: models.TierFlash}
	}

	raw := 0.0

	// Structure: one flat bonus for any code-like pattern.
	for _, p := range codePatterns {
		if p.MatchString(text) {
			raw += 3.0
			break
		}
	}

	// Vocabulary: weighted reasoning keywords.
	wordSet := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		wordSet[w] = struct{}{}
	}
	for keyword, weight := range complexKeywords {
		if _, ok := wordSet[keyword]; ok {
			raw += weight
		}
	}

	density := lexicalDensity(text)
	avgLen := avgSentenceLength(text)
	raw += density * 5
	raw += math.Min(avgLen, 50) / 10

	total := math.Min(10.0, math.Round(raw*100)/100)

	tier := models.TierFlash
	if total > proThreshold {
		tier = models.TierPro
	}
	return Score{
		Total:             total,
		LexicalDensity:    math.Round(density*100) / 100,
		AvgSentenceLength: math.Round(avgLen*100) / 100,
		Tier:              tier,
	}
}

// lexicalDensity is unique words over total words; denser text usually
// means more information per token.
func lexicalDensity(text string) float64 {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique)) / float64(len(words))
}

func avgSentenceLength(text string) float64 {
	parts := sentenceSplit.Split(text, -1)
	count := 0
	totalWords := 0
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		count++
		totalWords += len(strings.Fields(p))
	}
	if count == 0 {
		return 0
	}
	return float64(totalWords) / float64(count)
}
