package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"kimitok/internal/pkg/kimitok/bpe"
	"kimitok/internal/pkg/kimitok/segment"
	"kimitok/internal/pkg/kimitok/vocab"
)

// SpecialPolicy controls what encoding does with substrings that match a
// special-token name.
type SpecialPolicy int

const (
	// PolicyForbid rejects any input containing a special-token name.
	PolicyForbid SpecialPolicy = iota
	// PolicyAllow splices the reserved id wherever a name occurs.
	PolicyAllow
	// PolicyPlain treats names as ordinary text.
	PolicyPlain
)

func (p SpecialPolicy) String() string {
	switch p {
	case PolicyForbid:
		return "forbid"
	case PolicyAllow:
		return "allow"
	case PolicyPlain:
		return "plain"
	}
	return fmt.Sprintf("SpecialPolicy(%d)", int(p))
}

// ParsePolicy maps a config string onto a SpecialPolicy.
func ParsePolicy(s string) (SpecialPolicy, error) {
	switch s {
	case "forbid":
		return PolicyForbid, nil
	case "allow":
		return PolicyAllow, nil
	case "plain":
		return PolicyPlain, nil
	}
	return 0, fmt.Errorf("tokenizer: unknown special-token policy %q", s)
}

// DisallowedSpecialError reports a special-token name found in the input
// under PolicyForbid. The caller may retry with a different policy.
type DisallowedSpecialError struct {
	Token  string
	Offset int
}

func (e *DisallowedSpecialError) Error() string {
	return fmt.Sprintf("tokenizer: special token %q at byte %d not allowed in input", e.Token, e.Offset)
}

// UnknownIDError reports a decode id outside the vocabulary and the reserved
// special range.
type UnknownIDError struct {
	ID int
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("tokenizer: unknown token id %d", e.ID)
}

// ErrInvalidUTF8 is returned by strict decoding when the resolved bytes are
// not valid UTF-8.
var ErrInvalidUTF8 = errors.New("tokenizer: decoded bytes are not valid utf-8")

// Tokenizer drives segmentation and byte-pair merging over whole texts. It
// holds only immutable tables and is safe for concurrent use.
type Tokenizer struct {
	table *vocab.Table
}

func New(table *vocab.Table) *Tokenizer {
	return &Tokenizer{table: table}
}

// Table exposes the underlying vocabulary.
func (t *Tokenizer) Table() *vocab.Table { return t.table }

// Encode turns text into token ids. Every returned id is either a
// base-vocabulary rank or, under PolicyAllow, a reserved special-token id.
func (t *Tokenizer) Encode(text string, policy SpecialPolicy) ([]int, error) {
	switch policy {
	case PolicyForbid:
		if name, off, found := t.findSpecial(text); found {
			return nil, &DisallowedSpecialError{Token: name, Offset: off}
		}
		return t.encodeOrdinary(text)

	case PolicyPlain:
		return t.encodeOrdinary(text)

	case PolicyAllow:
		var ids []int
		rest := text
		for len(rest) > 0 {
			name, off, found := t.findSpecial(rest)
			if !found {
				break
			}

			prefix, err := t.encodeOrdinary(rest[:off])
			if err != nil {
				return nil, err
			}
			ids = append(ids, prefix...)

			id, _ := t.table.SpecialID(name)
			ids = append(ids, id)
			rest = rest[off+len(name):]
		}

		tail, err := t.encodeOrdinary(rest)
		if err != nil {
			return nil, err
		}
		return append(ids, tail...), nil
	}

	return nil, fmt.Errorf("tokenizer: unknown special-token policy %d", int(policy))
}

// findSpecial locates the earliest occurrence of any special-token name.
// Names are tried in id order, so a tie at the same offset resolves to the
// lowest id.
func (t *Tokenizer) findSpecial(text string) (string, int, bool) {
	best, bestOff := "", -1
	for _, name := range t.table.SpecialNames() {
		if off := strings.Index(text, name); off >= 0 && (bestOff < 0 || off < bestOff) {
			best, bestOff = name, off
		}
	}
	return best, bestOff, bestOff >= 0
}

func (t *Tokenizer) encodeOrdinary(text string) ([]int, error) {
	var ids []int
	sc := segment.NewScanner(text)
	for sc.Scan() {
		chunkIDs, err := bpe.Encode([]byte(sc.Text()), t.table)
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Decode resolves ids back to text, failing on ids outside [0, TotalSize) and
// on byte sequences that are not valid UTF-8.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	raw, err := t.resolve(ids)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	return string(raw), nil
}

// DecodeLossy is like Decode but substitutes U+FFFD for invalid byte
// sequences instead of failing. Unknown ids still fail.
func (t *Tokenizer) DecodeLossy(ids []int) (string, error) {
	raw, err := t.resolve(ids)
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	var sb strings.Builder
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(raw[:size])
		}
		raw = raw[size:]
	}
	return sb.String(), nil
}

func (t *Tokenizer) resolve(ids []int) ([]byte, error) {
	var raw []byte
	for _, id := range ids {
		if piece, ok := t.table.Piece(id); ok {
			raw = append(raw, piece...)
			continue
		}
		if name, ok := t.table.SpecialName(id); ok {
			raw = append(raw, name...)
			continue
		}
		return nil, &UnknownIDError{ID: id}
	}
	return raw, nil
}
