package intelligence

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"strings"
	"unicode"
)

// Normalize lowercases content, strips punctuation and collapses whitespace.
// Two contents that normalize to the same string are the same fact.
func Normalize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	space := false
	for _, r := range strings.ToLower(content) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// ContentHash returns the MD5 hex digest of the normalized content.
func ContentHash(content string) string {
	hash := md5.Sum([]byte(Normalize(content)))
	return hex.EncodeToString(hash[:])
}

// Tokens returns the distinct words of the normalized content.
func Tokens(content string) map[string]struct{} {
	words := strings.Fields(Normalize(content))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns the Jaccard similarity of the word sets of a and b.
func Jaccard(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for w := range ta {
		if _, ok := tb[w]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// NovelWords returns the words of candidate, in order, that existing does
// not contain.
func NovelWords(existing, candidate string) []string {
	known := Tokens(existing)
	var novel []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(Normalize(candidate)) {
		if _, ok := known[w]; ok || seen[w] {
			continue
		}
		seen[w] = true
		novel = append(novel, w)
	}
	return novel
}

// KeywordRelevance returns the fraction of query words found in content.
func KeywordRelevance(content, query string) float64 {
	queryWords := strings.Fields(Normalize(query))
	if len(queryWords) == 0 {
		return 0.0
	}
	contentWords := Tokens(content)

	matches := 0
	for _, word := range queryWords {
		if _, ok := contentWords[word]; ok {
			matches++
		}
	}
	return math.Min(float64(matches)/float64(len(queryWords)), 1.0)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// The formula is: similarity = (A · B) / (||A|| * ||B||)
//
// Returns cosine similarity between -1.0 and 1.0, or 0.0 if vectors have
// different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
