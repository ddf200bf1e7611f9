package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/threadline-ai/threadline/backend/internal/jobs"
	"github.com/threadline-ai/threadline/backend/internal/queue"
	"github.com/threadline-ai/threadline/backend/internal/storage"
	"github.com/threadline-ai/threadline/backend/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/threadline-ai/threadline/backend/pkg/ai"
	"github.com/threadline-ai/threadline/backend/pkg/ai/mock"
	oai "github.com/threadline-ai/threadline/backend/pkg/ai/ollama"
	gai "github.com/threadline-ai/threadline/backend/pkg/ai/openai"
	"github.com/threadline-ai/threadline/backend/pkg/chunker"
	"github.com/threadline-ai/threadline/backend/pkg/graph"
	"github.com/threadline-ai/threadline/backend/pkg/leaselock"
	"github.com/threadline-ai/threadline/backend/pkg/logger"
	"github.com/threadline-ai/threadline/backend/pkg/logger/console"
	pgxstore "github.com/threadline-ai/threadline/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create object storage client", "err", err)
	}
	texts := storage.NewTextLoader(client, util.GetEnv("AWS_BUCKET"))

	// AI adapter
	adapter := util.GetEnv("AI_ADAPTER")
	embedDim := int(util.GetEnvNumeric("AI_EMBED_DIM", 1536))

	var recognizer ai.Recognizer
	var embedder ai.Embedder

	switch adapter {
	case "mock":
		recognizer = mock.NewRecognizer()
		embedder = mock.NewEmbedder(embedDim)
	case "ollama":
		ollamaClient, err := oai.New(oai.Params{
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			Dimensions:      embedDim,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		recognizer = ollamaClient
		embedder = ollamaClient
	default:
		openaiClient := gai.New(gai.Params{
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			Dimensions:      embedDim,

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		})
		recognizer = openaiClient
		embedder = openaiClient
	}

	// Init pgx client
	pgCfg, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to parse database config", "err", err)
	}
	pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pgConn, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	db := pgxstore.New(pgConn)

	pipeline := &graph.Pipeline{
		Store:      db,
		Loader:     texts,
		Recognizer: recognizer,
		Embedder:   embedder,
	}
	// Token estimates use tiktoken when an encoding is configured, the
	// length heuristic otherwise.
	if encoding := util.GetEnv("CHUNK_TOKEN_ENCODING"); encoding != "" {
		pipeline.ChunkOptions = chunker.Options{
			Estimator: chunker.NewTiktokenEstimator(encoding),
		}
	}

	orchestrator, err := jobs.New(db)
	if err != nil {
		logger.Fatal("Could not create job orchestrator", "err", err)
	}
	defer orchestrator.Stop()

	runner := &jobs.Runner{
		Store:    db,
		Pipeline: pipeline,
		Leases:   leaselock.New(pgConn),
	}
	runner.Register(orchestrator)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	logger.Info("Listening for messages")

	// Single consumer channel with prefetch=1 so only one message is
	// in flight across all queues at a time.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.WorkQueues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.BatchQueue:
					processingErr = queue.ProcessBatchMessage(ctx, orchestrator, qm.msg.Body)
				default:
					processingErr = queue.ProcessSourceMessage(ctx, orchestrator, qm.queueName, qm.msg.Body)
				}

				// Failed messages go to retry or dead-letter, the rest are acked.
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message accepted", "queue", qm.queueName, "took", time.Since(startTime).Round(time.Millisecond))
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
