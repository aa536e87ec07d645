package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitterRejectsBadConfiguration(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		name      string
		maxLength int
		overlap   int
	}{
		{"zero max length", 0, 0},
		{"negative max length", -1, 0},
		{"negative overlap", 100, -1},
		{"overlap equals max length", 100, 100},
		{"overlap exceeds max length", 100, 150},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewSplitter(c.maxLength, c.overlap)
			assert.ErrorIs(err, ErrInvalidConfiguration)
		})
	}
}

func TestSplitLengthInvariant(t *testing.T) {
	assert := assert.New(t)

	splitter, err := NewSplitter(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("alpha beta gamma delta epsilon. ", 40)

	segments := splitter.Split(text)
	require.NotEmpty(t, segments)

	for _, segment := range segments {
		assert.LessOrEqual(len([]rune(segment.Text)), 50)
	}
}

func TestSplitReconstructsOriginalText(t *testing.T) {
	require := require.New(t)

	splitter, err := NewSplitter(40, 8)
	require.NoError(err)

	text := "The quick brown fox jumps over the lazy dog. " +
		"Pack my box with five dozen liquor jugs. " +
		"How vexingly quick daft zebras jump!"

	segments := splitter.Split(text)
	require.NotEmpty(segments)

	runes := []rune(text)

	var rebuilt []rune
	for _, segment := range segments {
		// Append only the part past what the previous segments covered.
		covered := len(rebuilt) - segment.Start
		require.GreaterOrEqual(covered, 0, "segments must not leave gaps")

		rebuilt = append(rebuilt, []rune(segment.Text)[covered:]...)
	}

	require.Equal(string(runes), string(rebuilt))
}

func TestSplitOverlapsPredecessor(t *testing.T) {
	assert := assert.New(t)

	splitter, err := NewSplitter(30, 6)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("x", 100)

	segments := splitter.Split(text)
	if len(segments) < 2 {
		t.Fatal("expected multiple segments")
	}

	for i := 1; i < len(segments); i++ {
		prevEnd := segments[i-1].Start + len([]rune(segments[i-1].Text))
		assert.Equal(6, prevEnd-segments[i].Start, "segment %d", i)
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	assert := assert.New(t)

	splitter, err := NewSplitter(60, 0)
	if err != nil {
		t.Fatal(err)
	}

	text := "First paragraph with some text here.\n\nSecond paragraph continues with more text afterward."

	segments := splitter.Split(text)
	if len(segments) < 2 {
		t.Fatal("expected multiple segments")
	}

	assert.True(strings.HasSuffix(segments[0].Text, "\n\n"),
		"first segment should end at the paragraph break, got %q", segments[0].Text)
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	assert := assert.New(t)

	splitter, err := NewSplitter(60, 0)
	if err != nil {
		t.Fatal(err)
	}

	text := "A short opening sentence ends here. The following sentence is long enough to spill into the next chunk entirely."

	segments := splitter.Split(text)
	if len(segments) < 2 {
		t.Fatal("expected multiple segments")
	}

	assert.True(strings.HasSuffix(strings.TrimRight(segments[0].Text, " "), "."),
		"first segment should end at a sentence boundary, got %q", segments[0].Text)
}

func TestSplitEmptyText(t *testing.T) {
	splitter, err := NewSplitter(100, 10)
	if err != nil {
		t.Fatal(err)
	}

	assert.Empty(t, splitter.Split(""))
}

func TestSplitShortTextSingleSegment(t *testing.T) {
	assert := assert.New(t)

	splitter, err := NewSplitter(1000, 200)
	if err != nil {
		t.Fatal(err)
	}

	segments := splitter.Split("tiny")
	assert.Len(segments, 1)
	assert.Equal("tiny", segments[0].Text)
	assert.Equal(0, segments[0].Start)
}

func TestSplitPreservesOrder(t *testing.T) {
	assert := assert.New(t)

	splitter, err := NewSplitter(25, 5)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("word soup for ordering. ", 20)

	segments := splitter.Split(text)
	for i := 1; i < len(segments); i++ {
		assert.Greater(segments[i].Start, segments[i-1].Start)
	}
}
