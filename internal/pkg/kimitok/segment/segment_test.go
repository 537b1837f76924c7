package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"single word", "hello", []string{"hello"}},
		{"two words", "Hello world", []string{"Hello", " world"}},
		{"all caps then word", "HELLO world", []string{"HELLO", " world"}},
		{"camel run", "HELLOworld", []string{"HELLOworld"}},
		{"mixed case word", "ABCdef", []string{"ABCdef"}},
		{"digit cap at three", "12345", []string{"123", "45"}},
		{"digit cap twice", "1234567", []string{"123", "456", "7"}},
		{"space before digits splits", " 42 degrees", []string{" ", "42", " degrees"}},
		{"letters and digits", "a1b2", []string{"a", "1", "b", "2"}},
		{"contraction", "don't stop", []string{"don't", " stop"}},
		{"contraction upper", "DON'T", []string{"DON'T"}},
		{"contraction ll", "we'll go", []string{"we'll", " go"}},
		{"apostrophe alone", "'s", []string{"'s"}},
		{"punctuation", "Hello, world!\n", []string{"Hello", ",", " world", "!\n"}},
		{"symbol run absorbs breaks", "!!\n\nx", []string{"!!\n\n", "x"}},
		{"symbol with leading space", "a +b", []string{"a", " +", "b"}},
		{"double space then word", "  hello", []string{" ", " hello"}},
		{"trailing spaces", "hi   ", []string{"hi", "   "}},
		{"inner spaces give one back", "hi   there", []string{"hi", "  ", " there"}},
		{"newline run", "a\n\nb", []string{"a", "\n\n", "b"}},
		{"space newline", "a \nb", []string{"a", " \n", "b"}},
		{"newline space word", "a\n b", []string{"a", "\n", " b"}},
		{"newline inside spaces", "a\n \nb", []string{"a", "\n \n", "b"}},
		{"han run", "中文", []string{"中文"}},
		{"han and latin", "中文abc", []string{"中文", "abc"}},
		{"latin then han", "a中", []string{"a", "中"}},
		{"space before han", "a 中", []string{"a", " ", "中"}},
		{"lead before word", "!Abc", []string{"!Abc"}},
		{"double symbol no lead", "!!abc", []string{"!!", "abc"}},
		{"tabs only", "\t\t", []string{"\t\t"}},
		{"crlf", "a\r\nb", []string{"a", "\r\n", "b"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Split(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPartitionInvariant(t *testing.T) {
	texts := []string{
		"",
		"Hello, world! How are you?",
		"  leading and trailing  ",
		"中文测试 mixed 文本 with English",
		"numbers 1234567890 and symbols !@#$%^&*()",
		"line\nbreaks\r\nand\ttabs",
		"don't won't can't I'll you're we've he'd I'm it's",
		"ALLCAPS MixedCase lowercase",
		"\x00 control \x01 bytes",
		"emoji 🙂 and accents café naïve",
		"   \n\n\t  \r\n   ",
		"a",
		"'",
	}

	for _, text := range texts {
		chunks, err := Split(text)
		require.NoError(t, err, "text %q", text)

		for _, chunk := range chunks {
			require.NotEmpty(t, chunk)
		}
		assert.Equal(t, text, strings.Join(chunks, ""), "chunks must partition %q", text)
	}
}

func TestScannerRestarts(t *testing.T) {
	const text = "Hello world"

	for i := 0; i < 2; i++ {
		sc := NewScanner(text)
		var chunks []string
		for sc.Scan() {
			chunks = append(chunks, sc.Text())
		}
		require.NoError(t, sc.Err())
		assert.Equal(t, []string{"Hello", " world"}, chunks)
	}
}

func TestScannerLazy(t *testing.T) {
	sc := NewScanner("one two three")

	require.True(t, sc.Scan())
	assert.Equal(t, "one", sc.Text())
	require.True(t, sc.Scan())
	assert.Equal(t, " two", sc.Text())
	require.True(t, sc.Scan())
	assert.Equal(t, " three", sc.Text())
	require.False(t, sc.Scan())
	require.NoError(t, sc.Err())
}
