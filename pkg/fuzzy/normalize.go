// Package fuzzy normalizes artist and track names so that the same recording
// spelled differently by two services compares equal.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featBracketRegex = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:feat\.?|ft\.?|featuring|with)\s+[^\)\]]*[\)\]]`)
	featTrailRegex   = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	versionBracket   = regexp.MustCompile(`(?i)\s*[\(\[][^\)\]]*\b(?:remix|remaster(?:ed)?|deluxe|extended|radio edit|live|mono|stereo)\b[^\)\]]*[\)\]]`)
	versionDashRegex = regexp.MustCompile(`(?i)\s+-\s+.*\b(?:remix|remaster(?:ed)?|radio edit|single version|album version|live|mono|stereo)\b.*$`)
	punctRegex       = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// SameTrackThreshold is the minimum similarity of both artist and title for SameTrack.
const SameTrackThreshold = 0.9

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.basicNormalize(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.TrimPrefix(artist, "the ")

	return artist
}

// NormalizeTitle lowercases title and drops featuring credits and version tags.
func (n *Normalizer) NormalizeTitle(title string) string {
	title = n.StripFeaturing(title)
	title = versionBracket.ReplaceAllString(title, "")
	title = versionDashRegex.ReplaceAllString(title, "")

	return n.basicNormalize(title)
}

// StripFeaturing removes "feat." credits but otherwise keeps title as written.
// Catalog searches and similarity lookups match better without them.
func (n *Normalizer) StripFeaturing(title string) string {
	title = featBracketRegex.ReplaceAllString(title, "")
	title = featTrailRegex.ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

// Key returns a stable identity for an artist and title pair.
func (n *Normalizer) Key(artist, title string) string {
	return n.NormalizeArtist(artist) + "|" + n.NormalizeTitle(title)
}

// SameTrack reports whether two artist/title pairs most likely name the same song.
func (n *Normalizer) SameTrack(artist1, title1, artist2, title2 string) bool {
	return n.CalculateSimilarity(n.NormalizeArtist(artist1), n.NormalizeArtist(artist2)) >= SameTrackThreshold &&
		n.CalculateSimilarity(n.NormalizeTitle(title1), n.NormalizeTitle(title2)) >= SameTrackThreshold
}

func (n *Normalizer) basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	text = strings.TrimSpace(text)

	return text
}

// CalculateSimilarity returns the longest common subsequence of s1 and s2 relative
// to the longer string, in [0,1].
func (n *Normalizer) CalculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	return float64(longestCommonSubsequence(s1, s2)) / float64(max(len(s1), len(s2)))
}

func longestCommonSubsequence(s1, s2 string) int {
	m, n := len(s1), len(s2)
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if s1[i-1] == s2[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[n]
}
