package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/flarexio/repochat"
	"github.com/flarexio/repochat/queue/rabbitmq"
	"github.com/flarexio/repochat/source"
	"github.com/flarexio/repochat/vector"

	mcpE "github.com/flarexio/repochat/mcp"
	httpT "github.com/flarexio/repochat/transport/http"
	natsT "github.com/flarexio/repochat/transport/nats"
)

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "repochat",
		Usage: "Chat with a source code repository",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to the RepoChat home holding config.yaml or config.toml",
				Sources: cli.EnvVars("REPOCHAT_PATH"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable development logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve questions over HTTP and optionally NATS",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "http-addr",
						Usage: "HTTP server address",
						Value: ":5000",
					},
					&cli.StringFlag{
						Name:    "nats",
						Usage:   "NATS server URL, empty disables the NATS transport",
						Sources: cli.EnvVars("NATS_URL"),
					},
					&cli.StringFlag{
						Name:  "topic",
						Usage: "NATS subject prefix",
						Value: "repochat",
					},
					&cli.BoolFlag{
						Name:  "ingest",
						Usage: "Ingest the repository before serving",
					},
				},
				Action: serve,
			},
			{
				Name:  "ingest",
				Usage: "Rebuild the vector index from the repository",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-chunks",
						Usage: "Index at most this many chunks, 0 for all",
					},
					&cli.BoolFlag{
						Name:  "enqueue",
						Usage: "Publish an ingestion job to RabbitMQ instead of ingesting",
					},
				},
				Action: ingest,
			},
			{
				Name:   "worker",
				Usage:  "Consume ingestion jobs from RabbitMQ",
				Action: worker,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func setup(cmd *cli.Command) (*repochat.Config, *zap.Logger, error) {
	path, err := homePath(cmd)
	if err != nil {
		return nil, nil, err
	}

	newLogger := zap.NewProduction
	if cmd.Bool("debug") {
		newLogger = zap.NewDevelopment
	}

	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	zap.ReplaceGlobals(log)

	cfg, err := repochat.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	return cfg, log, nil
}

func homePath(cmd *cli.Command) (string, error) {
	path := cmd.String("path")
	if path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".flarex", "repochat"), nil
}

func newIngestor(ctx context.Context, cfg *repochat.Config) (*repochat.Ingestor, error) {
	embedder, err := repochat.NewEmbedder(ctx, *cfg)
	if err != nil {
		return nil, err
	}

	index, err := repochat.NewIndex(cfg.Vector)
	if err != nil {
		return nil, err
	}

	fetcher := source.NewGitFetcher(cfg.Source)

	return repochat.NewIngestor(*cfg, fetcher, embedder, index)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	embedder, err := repochat.NewEmbedder(ctx, *cfg)
	if err != nil {
		return err
	}

	index, err := repochat.NewIndex(cfg.Vector)
	if err != nil {
		return err
	}

	if cmd.Bool("ingest") {
		// Shares the index with the service, which owns closing it.
		ingestor, err := repochat.NewIngestor(*cfg, source.NewGitFetcher(cfg.Source), embedder, index)
		if err != nil {
			return err
		}

		if _, err := ingestor.Ingest(ctx, repochat.IngestOptions{}); err != nil {
			return err
		}
	} else if cfg.Vector.Backend == vector.BackendChromem && !cfg.Vector.Persistent {
		log.Warn("in-memory index starts empty, run serve with --ingest")
	}

	completer, err := repochat.NewCompleter(cfg.LLM)
	if err != nil {
		return err
	}

	svc, err := repochat.NewService(*cfg, embedder, index, completer)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc = repochat.LoggingMiddleware(log)(svc)

	endpoints := repochat.MakeEndpoints(svc)

	// Add NATS Transport
	if natsURL := cmd.String("nats"); natsURL != "" {
		opts := []nats.Option{
			nats.Name("RepoChat Server"),
		}

		path, err := homePath(cmd)
		if err != nil {
			return err
		}

		natsCreds := filepath.Join(path, "user.creds")
		if _, err := os.Stat(natsCreds); err == nil {
			opts = append(opts, nats.UserCredentials(natsCreds))
		}

		nc, err := nats.Connect(natsURL, opts...)
		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "repochat",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		root := srv.AddGroup(cmd.String("topic"))
		natsT.AddEndpoints(root, endpoints)
	}

	// Add HTTP Transport
	{
		r := gin.Default()
		httpT.AddRouters(r, endpoints)
		httpT.AddStreamableRouters(r, mcpE.MakeEndpoints(svc))

		httpAddr := cmd.String("http-addr")
		go r.Run(httpAddr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := repochat.IngestOptions{
		MaxChunks: int(cmd.Int("max-chunks")),
	}

	if cmd.Bool("enqueue") {
		if err := cfg.RequireSharedIndex(); err != nil {
			return err
		}

		conn, err := rabbitmq.Dial(ctx, cfg.Queue.RabbitMQ.URL)
		if err != nil {
			return err
		}
		defer conn.Close()

		id, err := rabbitmq.NewPublisher(conn, cfg.Queue.RabbitMQ.Queue).Publish(ctx, opts)
		if err != nil {
			return err
		}

		log.Info("ingestion job enqueued", zap.String("job", id))
		return nil
	}

	ingestor, err := newIngestor(ctx, cfg)
	if err != nil {
		return err
	}
	defer ingestor.Close()

	report, err := ingestor.Ingest(ctx, opts)
	if err != nil {
		return err
	}

	bs, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(bs))
	return nil
}

func worker(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := cfg.RequireSharedIndex(); err != nil {
		return err
	}

	conn, err := rabbitmq.Dial(ctx, cfg.Queue.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ingestor, err := newIngestor(ctx, cfg)
	if err != nil {
		return err
	}
	defer ingestor.Close()

	w := rabbitmq.NewWorker(conn, ingestor, cfg.Queue.RabbitMQ.Queue)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}
