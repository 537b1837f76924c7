package tokenizer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kimitok/internal/pkg/kimitok/vocab"
)

func newTable(t *testing.T, pieces []string, named map[int]string) *vocab.Table {
	t.Helper()

	var sb strings.Builder
	for rank, piece := range pieces {
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(piece)), rank)
	}

	var meta []byte
	if named != nil {
		decoder := make(map[string]map[string]string, len(named))
		for id, name := range named {
			decoder[fmt.Sprint(id)] = map[string]string{"content": name}
		}
		var err error
		meta, err = json.Marshal(map[string]any{"added_tokens_decoder": decoder})
		require.NoError(t, err)
	}

	table, err := vocab.Parse([]byte(sb.String()), meta)
	require.NoError(t, err)
	return table
}

// asciiTable covers every byte of the texts used below plus a few merges.
func asciiTable(t *testing.T) *vocab.Table {
	t.Helper()
	return newTable(t, []string{
		"h", "e", "l", "o", " ", "w", "r", "d", "!", ",",
		"he", "ll", "llo", "hello", " w", "or", " world",
	}, nil)
}

func TestRoundTrip(t *testing.T) {
	tok := New(asciiTable(t))

	texts := []string{
		"",
		"hello",
		"hello world",
		"hello, world!",
		"  hello  world  ",
		"wollohorld",
	}

	for _, text := range texts {
		ids, err := tok.Encode(text, PolicyPlain)
		require.NoError(t, err, "text %q", text)

		decoded, err := tok.Decode(ids)
		require.NoError(t, err, "text %q", text)
		assert.Equal(t, text, decoded)
	}
}

func TestEncodeEmpty(t *testing.T) {
	tok := New(asciiTable(t))

	ids, err := tok.Encode("", PolicyAllow)
	require.NoError(t, err)
	assert.Empty(t, ids)

	decoded, err := tok.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, "", decoded)
}

func TestEncodeIDRange(t *testing.T) {
	table := asciiTable(t)
	tok := New(table)

	ids, err := tok.Encode("hello world! hello<|reserved_token_20|>", PolicyAllow)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	for _, id := range ids {
		assert.GreaterOrEqual(t, id, 0)
		assert.Less(t, id, table.TotalSize())
	}
	assert.Contains(t, ids, 20)
}

func TestSpecialTokenBoundary(t *testing.T) {
	// base size 10, reserved range [10, 266)
	pieces := []string{"h", "e", "l", "o", " ", "w", "r", "d", "he", "lo"}
	table := newTable(t, pieces, map[int]string{
		10: "<|im_start|>",
		11: "<|im_end|>",
	})
	require.Equal(t, 10, table.BaseSize())
	tok := New(table)

	ids, err := tok.Encode("hello<|im_end|> world", PolicyAllow)
	require.NoError(t, err)

	// "hello" merges to he+l+lo, then the special id, then " world" bytewise
	assert.Equal(t, []int{8, 2, 9, 11, 4, 5, 3, 6, 2, 7}, ids)

	decoded, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "hello<|im_end|> world", decoded)
}

func TestSpecialTokenAdjacent(t *testing.T) {
	pieces := []string{"h", "e", "l", "o", " ", "w", "r", "d", "he", "lo"}
	table := newTable(t, pieces, map[int]string{10: "<|a|>", 11: "<|b|>"})
	tok := New(table)

	ids, err := tok.Encode("<|a|><|b|>", PolicyAllow)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, ids)

	ids, err = tok.Encode("<|b|><|a|>", PolicyAllow)
	require.NoError(t, err)
	assert.Equal(t, []int{11, 10}, ids)
}

func TestPolicyForbid(t *testing.T) {
	table := newTable(t, []string{"h", "e", "l", "o"}, map[int]string{4: "<|stop|>"})
	tok := New(table)

	_, err := tok.Encode("<|stop|>", PolicyForbid)
	require.Error(t, err)

	var disallowed *DisallowedSpecialError
	require.ErrorAs(t, err, &disallowed)
	assert.Equal(t, "<|stop|>", disallowed.Token)
	assert.Equal(t, 0, disallowed.Offset)

	_, err = tok.Encode("hello<|stop|>", PolicyForbid)
	require.ErrorAs(t, err, &disallowed)
	assert.Equal(t, 5, disallowed.Offset)

	ids, err := tok.Encode("hello", PolicyForbid)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 2, 3}, ids)
}

func TestPolicyPlain(t *testing.T) {
	table := newTable(t, []string{"<", "|", "e", ">", "h"}, map[int]string{5: "<|e|>"})
	tok := New(table)

	ids, err := tok.Encode("<|e|>", PolicyPlain)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 1, 3}, ids)

	for _, id := range ids {
		assert.Less(t, id, table.BaseSize())
	}

	decoded, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "<|e|>", decoded)

	ids, err = tok.Encode("<|e|>", PolicyAllow)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, ids)
}

func TestDecodeUnknownID(t *testing.T) {
	table := asciiTable(t)
	tok := New(table)

	for _, id := range []int{-1, table.TotalSize(), table.TotalSize() + 100} {
		_, err := tok.Decode([]int{0, id})
		require.Error(t, err)

		var unknown *UnknownIDError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, id, unknown.ID)
	}
}

func TestDecodeSpecial(t *testing.T) {
	table := asciiTable(t)
	tok := New(table)

	decoded, err := tok.Decode([]int{table.BaseSize()})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("<|reserved_token_%d|>", table.BaseSize()), decoded)
}

func TestDecodeInvalidUTF8(t *testing.T) {
	table := newTable(t, []string{"\xff", "a"}, nil)
	tok := New(table)

	_, err := tok.Decode([]int{0, 1})
	require.ErrorIs(t, err, ErrInvalidUTF8)

	decoded, err := tok.DecodeLossy([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, "�a", decoded)
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]SpecialPolicy{
		"forbid": PolicyForbid,
		"allow":  PolicyAllow,
		"plain":  PolicyPlain,
	} {
		got, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}

	_, err := ParsePolicy("whatever")
	require.Error(t, err)
}
