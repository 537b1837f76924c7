package segment

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/text/unicode/rangetable"
)

// ErrNoRule means no segmentation rule matched at some position. The rule set
// is exhaustive over all input, so seeing this indicates a bug in the rules
// rather than a property of the input.
var ErrNoRule = errors.New("segment: no rule matched")

// The rule set mirrors the tokenizer's pretokenizer pattern, one alternative
// per match function, tried in order at each scan position:
//
//	[\p{Han}]+
//	[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}--\p{Han}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}--\p{Han}]+('s|'t|'re|'ve|'m|'ll|'d)?
//	[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}--\p{Han}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}--\p{Han}]*('s|'t|'re|'ve|'m|'ll|'d)?
//	\p{N}{1,3}
//	 ?[^\s\p{L}\p{N}]+[\r\n]*
//	\s*[\r\n]+
//	\s+(?!\S)
//	\s+
//
// The contraction suffixes are matched case-insensitively (ASCII fold). Each
// match function reproduces the backtracking behavior of its alternative, so
// chunk boundaries are identical to what the pattern produces.

var (
	upperish = rangetable.Merge(unicode.Lu, unicode.Lt, unicode.Lm, unicode.Lo, unicode.M)
	lowerish = rangetable.Merge(unicode.Ll, unicode.Lm, unicode.Lo, unicode.M)
)

func isHan(r rune) bool   { return unicode.Is(unicode.Han, r) }
func isUpper(r rune) bool { return unicode.Is(upperish, r) && !isHan(r) }
func isLower(r rune) bool { return unicode.Is(lowerish, r) && !isHan(r) }
func isLead(r rune) bool {
	return r != '\r' && r != '\n' && !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
func isSymbol(r rune) bool {
	return !unicode.IsSpace(r) && !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
func isBreak(r rune) bool { return r == '\r' || r == '\n' }

// Scanner walks a text and yields its chunks one at a time. A fresh Scanner
// restarts from the beginning; Scanners are not safe for concurrent use.
type Scanner struct {
	runes []rune
	pos   int
	chunk string
	err   error
}

func NewScanner(text string) *Scanner {
	return &Scanner{runes: []rune(text)}
}

// Scan advances to the next chunk. It returns false at the end of the text or
// on error; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.pos >= len(s.runes) {
		return false
	}

	end := s.match(s.pos)
	if end <= s.pos {
		s.err = fmt.Errorf("%w at rune %d (%q)", ErrNoRule, s.pos, s.runes[s.pos])
		return false
	}

	s.chunk = string(s.runes[s.pos:end])
	s.pos = end
	return true
}

// Text returns the chunk found by the last call to Scan.
func (s *Scanner) Text() string { return s.chunk }

func (s *Scanner) Err() error { return s.err }

// Split collects every chunk of text. The chunks partition the text: they are
// non-empty, contiguous, and concatenate back to the input.
func Split(text string) ([]string, error) {
	sc := NewScanner(text)
	var chunks []string
	for sc.Scan() {
		chunks = append(chunks, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *Scanner) match(i int) int {
	if end := s.matchHan(i); end > i {
		return end
	}
	if end := s.matchWord(i, false); end > i {
		return end
	}
	if end := s.matchWord(i, true); end > i {
		return end
	}
	if end := s.matchDigits(i); end > i {
		return end
	}
	if end := s.matchSymbols(i); end > i {
		return end
	}
	if end := s.matchBrokenSpace(i); end > i {
		return end
	}
	if end := s.matchTrailingSpace(i); end > i {
		return end
	}
	return s.matchSpace(i)
}

func (s *Scanner) matchHan(i int) int {
	end := i
	for end < len(s.runes) && isHan(s.runes[end]) {
		end++
	}
	return end
}

// matchWord handles the two letter-run alternatives. With upperFirst false the
// lowercase-flavored run is required (upper* lower+); with upperFirst true the
// uppercase-flavored run is required (upper+ lower*). The optional lead
// codepoint is tried first and given back if the body cannot match without it,
// exactly as the pattern's greedy `?` behaves.
func (s *Scanner) matchWord(i int, upperFirst bool) int {
	if i < len(s.runes) && isLead(s.runes[i]) {
		if end := s.matchWordBody(i+1, upperFirst); end > i+1 {
			return s.matchContraction(end)
		}
	}
	if end := s.matchWordBody(i, upperFirst); end > i {
		return s.matchContraction(end)
	}
	return i
}

func (s *Scanner) matchWordBody(i int, upperFirst bool) int {
	upperEnd := i
	for upperEnd < len(s.runes) && isUpper(s.runes[upperEnd]) {
		upperEnd++
	}

	lowerEnd := upperEnd
	for lowerEnd < len(s.runes) && isLower(s.runes[lowerEnd]) {
		lowerEnd++
	}

	if upperFirst {
		if upperEnd == i {
			return i
		}
		return lowerEnd
	}

	if lowerEnd > upperEnd {
		return lowerEnd
	}

	// The greedy upper* run swallowed every candidate, so it backtracks one
	// codepoint at a time until lower+ can claim one. Codepoints between the
	// backtrack target and upperEnd are known not to be lowercase-flavored,
	// so the match ends right after the reclaimed codepoint.
	for p := upperEnd - 1; p >= i; p-- {
		if isLower(s.runes[p]) {
			return p + 1
		}
	}
	return i
}

func (s *Scanner) matchContraction(i int) int {
	if i+1 >= len(s.runes) || s.runes[i] != '\'' {
		return i
	}
	switch lowerASCII(s.runes[i+1]) {
	case 's', 't', 'm', 'd':
		return i + 2
	case 'r':
		if i+2 < len(s.runes) && lowerASCII(s.runes[i+2]) == 'e' {
			return i + 3
		}
	case 'v':
		if i+2 < len(s.runes) && lowerASCII(s.runes[i+2]) == 'e' {
			return i + 3
		}
	case 'l':
		if i+2 < len(s.runes) && lowerASCII(s.runes[i+2]) == 'l' {
			return i + 3
		}
	}
	return i
}

func lowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func (s *Scanner) matchDigits(i int) int {
	end := i
	for end < len(s.runes) && end-i < 3 && unicode.IsNumber(s.runes[end]) {
		end++
	}
	return end
}

func (s *Scanner) matchSymbols(i int) int {
	j := i
	if j < len(s.runes) && s.runes[j] == ' ' {
		j++
	}

	end := j
	for end < len(s.runes) && isSymbol(s.runes[end]) {
		end++
	}
	if end == j {
		return i
	}

	for end < len(s.runes) && isBreak(s.runes[end]) {
		end++
	}
	return end
}

// matchBrokenSpace is the \s*[\r\n]+ alternative: a whitespace run that
// contains a line break, ending after the last break in the run.
func (s *Scanner) matchBrokenSpace(i int) int {
	end := i
	for end < len(s.runes) && unicode.IsSpace(s.runes[end]) {
		end++
	}
	for p := end - 1; p >= i; p-- {
		if isBreak(s.runes[p]) {
			return p + 1
		}
	}
	return i
}

// matchTrailingSpace is \s+(?!\S): whitespace not followed by a non-space
// codepoint. When text follows the run, the lookahead forces the last space
// to be given back so it can lead the next chunk.
func (s *Scanner) matchTrailingSpace(i int) int {
	end := i
	for end < len(s.runes) && unicode.IsSpace(s.runes[end]) {
		end++
	}
	if end == len(s.runes) {
		return end
	}
	if end-1 > i {
		return end - 1
	}
	return i
}

func (s *Scanner) matchSpace(i int) int {
	end := i
	for end < len(s.runes) && unicode.IsSpace(s.runes[end]) {
		end++
	}
	return end
}
