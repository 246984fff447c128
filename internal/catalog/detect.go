package catalog

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// maxNgram bounds the phrase length tried against multi-word product
	// names in the phonetic pass.
	maxNgram = 3
)

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched product name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) DetectorOption {
	return func(d *Detector) { d.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic overlap is found and the detector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) DetectorOption {
	return func(d *Detector) { d.fuzzyThreshold = threshold }
}

// Detector finds product mentions in transcribed speech. Read-only after
// construction, so safe for concurrent use.
type Detector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewDetector creates a Detector with the supplied options.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect returns the catalog products mentioned in the utterance, in catalog
// order and without duplicates.
func (d *Detector) Detect(utterance string, c *Catalog) []Product {
	if c == nil || c.Len() == 0 {
		return nil
	}
	lower := strings.ToLower(utterance)
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return nil
	}

	var found []Product
	for _, p := range c.products {
		nameLower := strings.ToLower(p.Name)
		if strings.Contains(lower, nameLower) {
			found = append(found, p)
			continue
		}
		if d.phoneticMention(tokens, nameLower) {
			found = append(found, p)
		}
	}
	return found
}

// phoneticMention reports whether any n-gram of the utterance phonetically
// matches the product name.
func (d *Detector) phoneticMention(tokens []string, nameLower string) bool {
	nameTokens := strings.Fields(nameLower)
	nameCodes := codesForTokens(nameTokens)

	limit := maxNgram
	if len(nameTokens) > limit {
		limit = len(nameTokens)
	}
	for n := 1; n <= limit && n <= len(tokens); n++ {
		for i := 0; i+n <= len(tokens); i++ {
			gram := tokens[i : i+n]
			gramFull := strings.Join(gram, " ")

			overlap := codesOverlap(codesForTokens(gram), nameCodes)
			score := bestJWScore(gram, nameTokens, gramFull, nameLower)

			if overlap && score >= d.phoneticThreshold {
				return true
			}
			if !overlap && score >= d.fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between an
// utterance n-gram and a product name: full strings, space-stripped strings,
// and the best pairwise token score.
func bestJWScore(gramTokens, nameTokens []string, gramFull, nameFull string) float64 {
	score := matchr.JaroWinkler(gramFull, nameFull, false)

	if len(gramTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(gramTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, gt := range gramTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(gt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
