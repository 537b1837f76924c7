package vocab

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NumReservedSpecial is the size of the special-token id range that sits
// immediately after the base vocabulary.
const NumReservedSpecial = 256

// LoadError reports a malformed rank table or metadata file. It is fatal:
// no usable vocabulary exists once it is returned.
type LoadError struct {
	Source string
	Line   int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("vocab: %s line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("vocab: %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Table holds the merge-rank table and the special-token table. It is built
// once and read-only afterwards, so it is safe for concurrent use.
type Table struct {
	ranks        map[string]int
	pieces       []string
	specialIDs   map[string]int
	specialNames []string
}

// Parse builds a Table from the raw rank-table text (base64 byte-string and
// decimal rank per line) and the raw special-token metadata JSON. meta may be
// nil, in which case every reserved slot gets a placeholder name.
func Parse(model []byte, meta []byte) (*Table, error) {
	ranks, err := parseRanks(model)
	if err != nil {
		return nil, err
	}

	named, err := parseSpecialMeta(meta)
	if err != nil {
		return nil, err
	}

	t := &Table{
		ranks:        ranks,
		pieces:       make([]string, len(ranks)),
		specialIDs:   make(map[string]int, NumReservedSpecial),
		specialNames: make([]string, 0, NumReservedSpecial),
	}

	seen := make([]bool, len(ranks))
	for piece, rank := range ranks {
		if rank < 0 || rank >= len(ranks) || seen[rank] {
			return nil, &LoadError{Source: "rank table", Err: fmt.Errorf("ranks are not dense: rank %d out of place in a table of %d entries", rank, len(ranks))}
		}
		seen[rank] = true
		t.pieces[rank] = piece
	}

	base := len(ranks)
	for id := base; id < base+NumReservedSpecial; id++ {
		name, ok := named[id]
		if !ok {
			name = fmt.Sprintf("<|reserved_token_%d|>", id)
		}
		t.specialIDs[name] = id
		t.specialNames = append(t.specialNames, name)
	}

	return t, nil
}

// Load reads and parses the rank table and special-token metadata files.
func Load(modelPath, configPath string) (*Table, error) {
	model, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, &LoadError{Source: modelPath, Err: err}
	}

	meta, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &LoadError{Source: configPath, Err: err}
	}

	t, err := Parse(model, meta)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func parseRanks(model []byte) (map[string]int, error) {
	ranks := make(map[string]int)
	for i, line := range strings.Split(string(model), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, &LoadError{Source: "rank table", Line: i + 1, Err: fmt.Errorf("expected byte-string and rank, got %d fields", len(fields))}
		}

		piece, err := base64.StdEncoding.DecodeString(fields[0])
		if err != nil {
			return nil, &LoadError{Source: "rank table", Line: i + 1, Err: fmt.Errorf("bad base64 byte-string: %w", err)}
		}

		rank, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, &LoadError{Source: "rank table", Line: i + 1, Err: fmt.Errorf("bad rank: %w", err)}
		}
		if rank < 0 {
			return nil, &LoadError{Source: "rank table", Line: i + 1, Err: fmt.Errorf("negative rank %d", rank)}
		}

		if _, dup := ranks[string(piece)]; dup {
			return nil, &LoadError{Source: "rank table", Line: i + 1, Err: fmt.Errorf("duplicate byte-string %q", piece)}
		}
		ranks[string(piece)] = rank
	}

	if len(ranks) == 0 {
		return nil, &LoadError{Source: "rank table", Err: fmt.Errorf("no entries")}
	}
	return ranks, nil
}

// parseSpecialMeta pulls id->name pairs out of the added_tokens_decoder
// mapping. Entries whose key is not a non-negative integer or whose value
// lacks a string content field are skipped, not errors.
func parseSpecialMeta(meta []byte) (map[int]string, error) {
	if len(meta) == 0 {
		return nil, nil
	}

	var config struct {
		AddedTokensDecoder map[string]json.RawMessage `json:"added_tokens_decoder"`
	}
	if err := json.Unmarshal(meta, &config); err != nil {
		return nil, &LoadError{Source: "special-token metadata", Err: err}
	}

	named := make(map[int]string, len(config.AddedTokensDecoder))
	for key, raw := range config.AddedTokensDecoder {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 {
			continue
		}

		var attrs struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal(raw, &attrs); err != nil || attrs.Content == nil {
			continue
		}
		named[id] = *attrs.Content
	}
	return named, nil
}

// BaseSize is the number of entries in the rank table.
func (t *Table) BaseSize() int { return len(t.pieces) }

// TotalSize is the base size plus the reserved special range.
func (t *Table) TotalSize() int { return len(t.pieces) + NumReservedSpecial }

// Rank looks up the rank of a byte-string.
func (t *Table) Rank(piece []byte) (int, bool) {
	rank, ok := t.ranks[string(piece)]
	return rank, ok
}

// Piece is the reverse lookup: the byte-string assigned to a base-vocabulary
// rank.
func (t *Table) Piece(rank int) ([]byte, bool) {
	if rank < 0 || rank >= len(t.pieces) {
		return nil, false
	}
	return []byte(t.pieces[rank]), true
}

// SpecialID looks up the reserved id for a special-token name.
func (t *Table) SpecialID(name string) (int, bool) {
	id, ok := t.specialIDs[name]
	return id, ok
}

// SpecialName is the reverse lookup over the reserved range.
func (t *Table) SpecialName(id int) (string, bool) {
	i := id - len(t.pieces)
	if i < 0 || i >= len(t.specialNames) {
		return "", false
	}
	return t.specialNames[i], true
}

// SpecialNames returns the special-token names in id order. The returned
// slice is shared; callers must not modify it.
func (t *Table) SpecialNames() []string { return t.specialNames }
