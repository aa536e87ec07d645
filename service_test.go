package commonrag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/commonrag/commonrag/persistence/chromem"
	"github.com/commonrag/commonrag/vector"
)

// fakeEmbedder produces a deterministic 4-dimension vector from rune
// counts: length, vowels, consonants and spaces. Texts containing failOn
// always fail, to simulate a broken embedding backend for one chunk.
// With block set it hangs until the call context expires, to simulate a
// stalled backend.
type fakeEmbedder struct {
	calls  atomic.Int64
	failOn string
	block  bool
}

func (e *fakeEmbedder) Dimension() int { return 4 }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)

	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding backend rejected input")
	}

	var length, vowels, consonants, spaces float32
	for _, r := range text {
		length++
		switch {
		case strings.ContainsRune("aeiouAEIOU", r):
			vowels++
		case r == ' ':
			spaces++
		default:
			consonants++
		}
	}

	return []float32{length, vowels, consonants, spaces + 1}, nil
}

// fakeChat records the prompt it was given and plays back a scripted
// answer.
type fakeChat struct {
	calls  atomic.Int64
	prompt string
	answer string
	err    error
}

func (c *fakeChat) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls.Add(1)
	c.prompt = prompt

	if c.err != nil {
		return "", c.err
	}

	return c.answer, nil
}

type staticSource struct {
	docs []Document
}

func (s *staticSource) Collect(ctx context.Context) ([]Document, error) {
	return s.docs, nil
}

func testConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()

	cfg.Chunker = ChunkerConfig{MaxLength: 200, Overlap: 20}
	cfg.Ingest.Workers = 2
	cfg.Ingest.MaxRetries = 1
	cfg.CallTimeout = Duration(5 * time.Second)

	return cfg
}

func document(source, text string) Document {
	return Document{
		Text: text,
		Metadata: map[string]string{
			MetaSource: source,
		},
	}
}

type commonRAGTestSuite struct {
	suite.Suite
	ctx      context.Context
	svc      Service
	store    vector.Store
	embedder *fakeEmbedder
	chat     *fakeChat
}

func (suite *commonRAGTestSuite) SetupTest() {
	cfg := testConfig()

	store, err := chromem.NewChromemStore(vector.Config{
		Collection: "test_documents",
	}, 4)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	embedder := &fakeEmbedder{}
	chat := &fakeChat{answer: "a grounded answer"}

	svc, err := NewService(context.Background(), cfg, store, embedder, chat)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.ctx = context.Background()
	suite.svc = svc
	suite.store = store
	suite.embedder = embedder
	suite.chat = chat
}

func (suite *commonRAGTestSuite) TearDownTest() {
	suite.svc.Close()
}

func (suite *commonRAGTestSuite) TestIngestDocuments() {
	docs := []Document{
		document("a.txt", "The first document talks about apples and orchards."),
		document("b.txt", "The second document talks about bridges and rivers."),
	}

	report, err := suite.svc.IngestDocuments(suite.ctx, docs)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.Equal(2, report.Documents)
	suite.Equal(2, report.Chunks)
	suite.Equal(2, report.Upserted)
	suite.Equal(0, report.Failed)

	count, err := suite.store.Count(suite.ctx)
	suite.NoError(err)
	suite.Equal(2, count)
}

func (suite *commonRAGTestSuite) TestIngestIsIdempotent() {
	docs := []Document{
		document("a.txt", "Same document, ingested twice, stored once."),
		document("b.txt", "Another document that also appears exactly once."),
	}

	_, err := suite.svc.IngestDocuments(suite.ctx, docs)
	suite.NoError(err)

	first, err := suite.store.Count(suite.ctx)
	suite.NoError(err)

	_, err = suite.svc.IngestDocuments(suite.ctx, docs)
	suite.NoError(err)

	second, err := suite.store.Count(suite.ctx)
	suite.NoError(err)

	suite.Equal(first, second)
}

func (suite *commonRAGTestSuite) TestIngestIsolatesEmbeddingFailures() {
	suite.embedder.failOn = "POISON"

	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = document(
			fmt.Sprintf("doc-%d.txt", i),
			fmt.Sprintf("Document number %d holds ordinary content.", i),
		)
	}
	docs[3].Text = "POISON makes this one chunk unembeddable."

	report, err := suite.svc.IngestDocuments(suite.ctx, docs)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.Equal(10, report.Chunks)
	suite.Equal(9, report.Upserted)
	suite.Equal(1, report.Failed)
	suite.Len(report.Failures, 1)
	suite.Equal("doc-3.txt", report.Failures[0].Source)

	count, err := suite.store.Count(suite.ctx)
	suite.NoError(err)
	suite.Equal(9, count)
}

func (suite *commonRAGTestSuite) TestIngestFromSources() {
	source := &staticSource{docs: []Document{
		document("s.txt", "A document served from a source collaborator."),
	}}

	cfg := testConfig()

	store, err := chromem.NewChromemStore(vector.Config{
		Collection: "test_documents",
	}, 4)
	suite.NoError(err)

	svc, err := NewService(context.Background(), cfg, store, suite.embedder, suite.chat, source)
	suite.NoError(err)
	defer svc.Close()

	report, err := svc.Ingest(suite.ctx)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.Equal(1, report.Documents)
	suite.Equal(1, report.Upserted)
}

func (suite *commonRAGTestSuite) TestIngestWithoutDocuments() {
	_, err := suite.svc.Ingest(suite.ctx)
	suite.ErrorIs(err, ErrNoDocuments)
}

func (suite *commonRAGTestSuite) TestSearchOrdersByDescendingSimilarity() {
	docs := []Document{
		document("a.txt", "Apples grow in orchards across the valley."),
		document("b.txt", "Bridges span rivers near the old town."),
		document("c.txt", "Cats nap on warm windowsills all afternoon."),
	}

	_, err := suite.svc.IngestDocuments(suite.ctx, docs)
	suite.NoError(err)

	results, err := suite.svc.Search(suite.ctx, "Where do apples grow?", 3)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.Len(results, 3)
	for i := 1; i < len(results); i++ {
		suite.GreaterOrEqual(results[i-1].Score, results[i].Score)
	}
}

func (suite *commonRAGTestSuite) TestSearchIsDeterministic() {
	docs := []Document{
		document("a.txt", "Identical queries must see identical results."),
		document("b.txt", "Nothing about the store changes between calls."),
	}

	_, err := suite.svc.IngestDocuments(suite.ctx, docs)
	suite.NoError(err)

	first, err := suite.svc.Search(suite.ctx, "what changes between calls?", 2)
	suite.NoError(err)

	second, err := suite.svc.Search(suite.ctx, "what changes between calls?", 2)
	suite.NoError(err)

	suite.Equal(first, second)
}

func (suite *commonRAGTestSuite) TestAnswerGroundsInRetrievedContext() {
	docs := []Document{
		document("a.txt", "Apples grow in orchards across the valley."),
		document("b.txt", "Bridges span rivers near the old town."),
		document("c.txt", "Cats nap on warm windowsills all afternoon."),
	}

	_, err := suite.svc.IngestDocuments(suite.ctx, docs)
	suite.NoError(err)

	// k exceeds the store size; the context must hold exactly the three
	// stored chunks in retrieval order.
	results, err := suite.svc.Search(suite.ctx, "Where do apples grow?", 5)
	suite.NoError(err)
	suite.Len(results, 3)

	answer, err := suite.svc.Answer(suite.ctx, "Where do apples grow?", 5)
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.Equal("a grounded answer", answer)
	suite.Contains(suite.chat.prompt, "using only the context below")

	last := -1
	for _, result := range results {
		at := strings.Index(suite.chat.prompt, result.Text)
		suite.Greater(at, last, "chunk %s out of order in prompt", result.ID)
		last = at
	}
}

func (suite *commonRAGTestSuite) TestAnswerEmptyQuery() {
	_, err := suite.svc.Answer(suite.ctx, "   \t ")
	suite.ErrorIs(err, ErrEmptyQuery)

	suite.Zero(suite.embedder.calls.Load(), "no embedding call may happen")
	suite.Zero(suite.chat.calls.Load(), "no chat call may happen")
}

func (suite *commonRAGTestSuite) TestAnswerInvalidK() {
	_, err := suite.svc.Answer(suite.ctx, "a valid question", 0)
	suite.ErrorIs(err, ErrInvalidK)

	suite.Zero(suite.embedder.calls.Load())
	suite.Zero(suite.chat.calls.Load())
}

func (suite *commonRAGTestSuite) TestAnswerWithEmptyStoreStillCallsChat() {
	answer, err := suite.svc.Answer(suite.ctx, "anything in there?")
	if err != nil {
		suite.FailNow(err.Error())
		return
	}

	suite.Equal("a grounded answer", answer)
	suite.Equal(int64(1), suite.chat.calls.Load())
	suite.Contains(suite.chat.prompt, "using only the context below")
}

func (suite *commonRAGTestSuite) TestAnswerSurfacesGenerationFailure() {
	suite.chat.err = errors.New("model overloaded")

	_, err := suite.svc.Answer(suite.ctx, "a valid question")
	suite.ErrorIs(err, ErrGenerationFailed)

	suite.Equal(int64(1), suite.chat.calls.Load(), "no local retry on chat failure")
}

func (suite *commonRAGTestSuite) TestSearchStalledEmbedderSurfacesTimeout() {
	cfg := testConfig()
	cfg.CallTimeout = Duration(10 * time.Millisecond)

	store, err := chromem.NewChromemStore(vector.Config{
		Collection: "test_documents",
	}, 4)
	suite.NoError(err)

	embedder := &fakeEmbedder{block: true}

	svc, err := NewService(context.Background(), cfg, store, embedder, suite.chat)
	suite.NoError(err)
	defer svc.Close()

	_, err = svc.Search(suite.ctx, "a valid question")
	suite.ErrorIs(err, ErrTimeout)
	suite.NotErrorIs(err, ErrEmbeddingFailed)
}

func (suite *commonRAGTestSuite) TestSearchBackendFailureIsNotTimeout() {
	suite.embedder.failOn = "broken"

	_, err := suite.svc.Search(suite.ctx, "broken backend input")
	suite.ErrorIs(err, ErrEmbeddingFailed)
	suite.NotErrorIs(err, ErrTimeout)
}

func (suite *commonRAGTestSuite) TestAnswerCancellation() {
	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()

	_, err := suite.svc.Answer(ctx, "a valid question")
	suite.Error(err)
	suite.Zero(suite.chat.calls.Load())
}

func (suite *commonRAGTestSuite) TestNewServiceRejectsBadConfiguration() {
	cfg := testConfig()
	cfg.Chunker.Overlap = cfg.Chunker.MaxLength

	_, err := NewService(context.Background(), cfg, suite.store, suite.embedder, suite.chat)
	suite.ErrorIs(err, ErrInvalidConfiguration)
}

func TestCommonRAGSuite(t *testing.T) {
	suite.Run(t, new(commonRAGTestSuite))
}
