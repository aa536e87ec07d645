package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/commonrag/commonrag"
	"github.com/commonrag/commonrag/collect"
	"github.com/commonrag/commonrag/persistence/chromem"
	"github.com/commonrag/commonrag/provider/openai"

	httpT "github.com/commonrag/commonrag/transport/http"
	natsT "github.com/commonrag/commonrag/transport/nats"
)

func main() {
	cmd := &cli.Command{
		Name:  "commonrag",
		Usage: "Retrieval-grounded question answering over your documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Path to the CommonRAG home directory",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the service with HTTP and NATS transports",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "nats",
						Usage:   "NATS server URL",
						Sources: cli.EnvVars("NATS_URL"),
					},
					&cli.StringFlag{
						Name:  "http-addr",
						Usage: "HTTP server address",
						Value: ":8080",
					},
				},
				Action: serve,
			},
			{
				Name:   "ingest",
				Usage:  "Collect the configured sources once and ingest them",
				Action: ingest,
			},
			{
				Name:  "chat",
				Usage: "Interactive question loop; type exit or quit to leave",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "How many chunks to retrieve per question",
					},
				},
				Action: chat,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func setup(cmd *cli.Command) (commonrag.Service, *zap.Logger, error) {
	path := cmd.String("path")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}

		path = filepath.Join(homeDir, ".commonrag")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, err
	}

	zap.ReplaceGlobals(log)

	// API keys come from the environment; .env is an optional convenience.
	godotenv.Load()

	var cfg commonrag.Config

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	if err == nil {
		err = yaml.NewDecoder(f).Decode(&cfg)
		f.Close()

		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", commonrag.ErrInvalidConfiguration, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}

	cfg.ApplyDefaults()

	if cfg.Vector.Path == "" {
		cfg.Vector.Path = filepath.Join(path, "vectors")
	}
	if cfg.Ingest.DocumentsDir == "" {
		cfg.Ingest.DocumentsDir = filepath.Join(path, "documents")
	}

	store, err := chromem.NewChromemStore(cfg.Vector, cfg.OpenAI.Dimension)
	if err != nil {
		return nil, nil, err
	}

	provider, err := openai.NewProvider(openai.Config{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKeyEnv:      cfg.OpenAI.APIKeyEnv,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		ChatModel:      cfg.OpenAI.ChatModel,
		Dimension:      cfg.OpenAI.Dimension,
	})
	if err != nil {
		return nil, nil, err
	}

	sources := []commonrag.Source{
		collect.NewDirectory(cfg.Ingest.DocumentsDir),
	}

	if cfg.Crawl.URL != "" {
		sources = append(sources, collect.NewCrawler(
			cfg.Crawl.URL,
			cfg.Crawl.MaxPages,
			cfg.Crawl.MaxDepth,
			cfg.Crawl.Timeout.Duration(),
		))
	}

	svc, err := commonrag.NewService(context.Background(), cfg, store, provider, provider, sources...)
	if err != nil {
		return nil, nil, err
	}

	svc = commonrag.LoggingMiddleware(log)(svc)

	return svc, log, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	svc, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer log.Sync()

	endpoints := commonrag.EndpointSet{
		Ingest: commonrag.IngestEndpoint(svc),
		Search: commonrag.SearchEndpoint(svc),
		Answer: commonrag.AnswerEndpoint(svc),
	}

	natsURL := cmd.String("nats")
	if natsURL != "" {
		nc, err := nats.Connect(natsURL,
			nats.Name("CommonRAG Server"),
		)
		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "commonrag",
			Version: "1.0.0",
		})
		if err != nil {
			return err
		}
		defer srv.Stop()

		root := srv.AddGroup("commonrag")
		natsT.AddEndpoints(root, endpoints)
	}

	r := gin.Default()
	httpT.AddRouters(r, endpoints)

	httpAddr := cmd.String("http-addr")
	go r.Run(httpAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	svc, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := svc.Ingest(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Upserted %d of %d chunks from %d documents (%d failed).\n",
		report.Upserted, report.Chunks, report.Documents, report.Failed)

	for _, failure := range report.Failures {
		fmt.Printf("  failed %s (%s): %s\n", failure.ChunkID, failure.Source, failure.Reason)
	}

	return nil
}

func chat(ctx context.Context, cmd *cli.Command) error {
	svc, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k := int(cmd.Int("k"))

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\nYou:  ")

		if !scanner.Scan() {
			return scanner.Err()
		}

		if err := ctx.Err(); err != nil {
			return nil
		}

		query := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(query) {
		case "exit", "quit":
			return nil
		case "":
			continue
		}

		var answer string
		if k > 0 {
			answer, err = svc.Answer(ctx, query, k)
		} else {
			answer, err = svc.Answer(ctx, query)
		}

		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			continue
		}

		fmt.Println(answer)
	}
}
