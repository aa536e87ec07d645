package commonrag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/commonrag/commonrag/vector"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyQuery           = errors.New("query is empty")
	ErrInvalidK             = errors.New("k must be positive")
	ErrNoDocuments          = errors.New("no documents collected")
	ErrEmbeddingFailed      = errors.New("embedding failed")
	ErrGenerationFailed     = errors.New("generation failed")
	ErrTimeout              = errors.New("external call timed out")
)

// Document is a raw text plus string metadata, as produced by a Source.
// The "source" key carries the file path or URL it came from.
type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (d Document) Source() string {
	return d.Metadata[MetaSource]
}

// Metadata keys stamped onto chunks and stored records.
const (
	MetaSource = "source"
	MetaOffset = "offset"
)

// Chunk is a bounded-length segment of a Document. Metadata is a copy of
// the parent document's metadata plus the chunk's own source/offset keys,
// so mutating one chunk never affects the document or sibling chunks.
type Chunk struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Offset   int               `json:"offset"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult is one retrieved chunk with its similarity score.
type SearchResult struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source,omitempty"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestFailure records a chunk that could not be embedded after retries.
type IngestFailure struct {
	ChunkID string `json:"chunk_id"`
	Source  string `json:"source,omitempty"`
	Reason  string `json:"reason"`
}

// IngestReport is the final tally of one ingestion run.
type IngestReport struct {
	Documents int             `json:"documents"`
	Chunks    int             `json:"chunks"`
	Upserted  int             `json:"upserted"`
	Failed    int             `json:"failed"`
	Failures  []IngestFailure `json:"failures,omitempty"`
}

// Source yields documents from somewhere external, such as a directory of
// files or a crawled site.
type Source interface {
	Collect(ctx context.Context) ([]Document, error)
}

// Embedder maps text to a fixed-dimension vector. Dimension is a property
// of the configured model and uniform across the whole store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ChatModel maps a prompt to a plain-text completion.
type ChatModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// answerPrompt is the grounding template. The only-from-context instruction
// is what separates a retrieval-grounded answer from free generation and is
// rendered into every prompt, including when the context block is empty.
const answerPrompt = "Answer in markdown using only the context below. " +
	"Do not use outside knowledge.\n\n%s\n\nQ: %s\nA:"

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() ([]byte, error) {
	str := d.Duration().String()
	return yaml.Marshal(str)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

type ChunkerConfig struct {
	MaxLength int `yaml:"maxLength"`
	Overlap   int `yaml:"overlap"`
}

type RetrievalConfig struct {
	DefaultK int `yaml:"defaultK"`
}

type IngestConfig struct {
	DocumentsDir string `yaml:"documentsDir"`
	Workers      int    `yaml:"workers"`
	MaxRetries   int    `yaml:"maxRetries"`
}

type CrawlConfig struct {
	URL      string   `yaml:"url"`
	MaxPages int      `yaml:"maxPages"`
	MaxDepth int      `yaml:"maxDepth"`
	Timeout  Duration `yaml:"timeout"`
}

type OpenAIConfig struct {
	BaseURL        string `yaml:"baseURL"`
	APIKeyEnv      string `yaml:"apiKeyEnv"`
	EmbeddingModel string `yaml:"embeddingModel"`
	ChatModel      string `yaml:"chatModel"`
	Dimension      int    `yaml:"dimension"`
}

type Config struct {
	Chunker     ChunkerConfig   `yaml:"chunker"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Ingest      IngestConfig    `yaml:"ingest"`
	Crawl       CrawlConfig     `yaml:"crawl"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Vector      vector.Config   `yaml:"vector"`
	CallTimeout Duration        `yaml:"callTimeout"`
}

// ApplyDefaults fills unset fields with the deployment defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Chunker.MaxLength == 0 {
		cfg.Chunker.MaxLength = 1000
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = 200
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 5
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.MaxRetries == 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Crawl.MaxPages == 0 {
		cfg.Crawl.MaxPages = 20
	}
	if cfg.Crawl.MaxDepth == 0 {
		cfg.Crawl.MaxDepth = 3
	}
	if cfg.Crawl.Timeout == 0 {
		cfg.Crawl.Timeout = Duration(30 * time.Second)
	}
	if cfg.OpenAI.APIKeyEnv == "" {
		cfg.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.OpenAI.Dimension == 0 {
		cfg.OpenAI.Dimension = 1536
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "common_rag_documents"
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = Duration(30 * time.Second)
	}
}

// Validate rejects parameter combinations that are fatal at startup.
func (cfg *Config) Validate() error {
	if cfg.Chunker.MaxLength <= 0 {
		return fmt.Errorf("%w: chunker max length must be positive", ErrInvalidConfiguration)
	}
	if cfg.Chunker.Overlap < 0 || cfg.Chunker.Overlap >= cfg.Chunker.MaxLength {
		return fmt.Errorf("%w: overlap must satisfy 0 <= overlap < max length", ErrInvalidConfiguration)
	}
	if cfg.Retrieval.DefaultK <= 0 {
		return fmt.Errorf("%w: default k must be positive", ErrInvalidConfiguration)
	}
	if cfg.OpenAI.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// ChunkToRecord converts a chunk and its embedding into the durable unit
// owned by the vector store.
func ChunkToRecord(chunk Chunk, embedding []float32) vector.Record {
	return vector.Record{
		ID:        chunk.ID,
		Content:   chunk.Text,
		Embedding: embedding,
		Metadata:  chunk.Metadata,
	}
}

// ChunkID derives the stable record identifier from the source and the
// chunk's rune offset. Re-ingesting the same source with unchanged content
// produces the same IDs, so upserts overwrite instead of duplicating.
func ChunkID(source string, offset int) string {
	data := source + "|" + strconv.Itoa(offset)

	hash := sha256.Sum256([]byte(data))
	return "chunk_" + hex.EncodeToString(hash[:12])
}
