// Package bsr parses free-form "best sellers rank" strings as scraped from
// product detail pages into (category, rank) segments.
//
// The input format varies by storefront locale: separators differ (#, Nr.,
// n., nº, or nothing at all), digits may be Arabic-Indic, thousands
// separators may be commas, dots or U+066C, and most locales append a
// parenthesised "see top 100" hint after the category name. The parser is
// tolerant by construction: it never fails, it degrades to empty segments.
package bsr

import (
	"regexp"
	"strconv"
	"strings"
)

// Segment is one parsed (category, rank) pair. Name is "" and Rank is 0
// when the corresponding part could not be recognised.
type Segment struct {
	Name string
	Rank int
}

// Segments is the fixed parser output: main category, subcategory 1,
// subcategory 2. Missing trailing segments stay zero.
type Segments [3]Segment

var (
	// Fallback separators tried in order when '#' does not segment the
	// input: German "Nr.", Italian "n. " (space-anchored so words that
	// merely end in "n." do not split), Spanish/Portuguese "nº", and a
	// last-resort split on closing parentheses.
	sepGerman   = regexp.MustCompile(`Nr\.`)
	sepItalian  = regexp.MustCompile(`(?i)(?:^|\s)n\.\s`)
	sepIberian  = regexp.MustCompile(`(?i)nº\s*`)
	sepParen    = regexp.MustCompile(`\)`)
	rankMarker  = regexp.MustCompile(`(?i)^(?:nr\.|n\.|nº)\s*`)
	japaneseSeg = regexp.MustCompile(`^(.+?)\s*-\s*([0-9,.]+)\s*位`)
	rankedSeg   = regexp.MustCompile(`(?i)^([0-9٠-٩][0-9٠-٩,.٬]*)\s*(?:in|en|em|في)\s+(.+)$`)
	markerSeg   = regexp.MustCompile(`(?i)^(?:in|en|em|في)\s+(.+)$`)
	seeMoreHint = regexp.MustCompile(`(?i)\s*\((?:see\s+top|siehe\s+(?:die\s+)?top|ver\s+(?:el\s+)?top|visualizza\s+i\s+top|conheça\s+os|トップ|売れ筋ランキング|انظر)[^)]*\)?\s*$`)
)

// Parse extracts up to three (category, rank) segments from a raw best
// sellers rank string. It never returns an error; unparseable or empty
// input yields zero segments.
func Parse(raw string) Segments {
	var out Segments
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}

	parts := segment(raw)
	start := startIndex(parts)

	for i := 0; i < 3; i++ {
		idx := start + i
		if idx >= len(parts) {
			break
		}
		out[i] = parseSegment(parts[idx])
	}
	return out
}

// segment splits the raw string into candidate category segments. The '#'
// separator is the common case; locale-specific separators are tried only
// when '#' leaves the input in one piece, and only adopted when they
// actually split it.
func segment(raw string) []string {
	primary := strings.Split(raw, "#")
	if countNonBlank(primary) > 1 {
		return primary
	}
	for _, sep := range []*regexp.Regexp{sepGerman, sepItalian, sepIberian, sepParen} {
		parts := sep.Split(raw, -1)
		if countNonBlank(parts) > 1 {
			return parts
		}
	}
	return primary
}

// startIndex compensates for a leading separator artifact: splitting
// "#1 in A #2 in B" leaves a blank first element, so the real segments
// begin at index 1. The shift applies only when the first part is blank.
func startIndex(parts []string) int {
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		return 1
	}
	return 0
}

func countNonBlank(parts []string) int {
	n := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

// parseSegment cleans one segment and separates the category name from the
// numeric rank.
func parseSegment(s string) Segment {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = rankMarker.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimSpace(s)
	if strings.Contains(s, "(") && !strings.Contains(s, ")") {
		s += ")"
	}
	if s == "" {
		return Segment{}
	}

	if m := japaneseSeg.FindStringSubmatch(s); m != nil {
		return Segment{Name: cleanName(m[1]), Rank: parseRank(m[2])}
	}
	if m := rankedSeg.FindStringSubmatch(s); m != nil {
		return Segment{Name: cleanName(m[2]), Rank: parseRank(m[1])}
	}
	if m := markerSeg.FindStringSubmatch(s); m != nil {
		return Segment{Name: cleanName(m[1])}
	}
	return Segment{Name: cleanName(s)}
}

// cleanName strips the localized trailing "see top N" parenthetical.
func cleanName(name string) string {
	name = seeMoreHint.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// parseRank converts a digit run to an int, mapping Arabic-Indic digits to
// ASCII and dropping thousands separators. Returns 0 when nothing numeric
// remains.
func parseRank(digits string) int {
	var b strings.Builder
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == ',' || r == '.' || r == '٬':
			// thousands separator
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}
