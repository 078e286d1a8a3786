package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"corpus-rag/internal/chunker"
	"corpus-rag/internal/config"
	"corpus-rag/internal/evaluation"
	"corpus-rag/internal/helper"
	"corpus-rag/internal/models"
	"corpus-rag/internal/parser"
	"corpus-rag/internal/rag"
	"corpus-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

type options struct {
	configPath string
	files      string
	url        string
	query      string
	evaluate   string
	format     string
	rebuild    bool
	serve      bool
	dryRun     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", configFilePath, "Path to the YAML config")
	flag.StringVar(&opts.files, "file", "", "Document file(s) to ingest, comma separated")
	flag.StringVar(&opts.url, "url", "", "Web page to ingest")
	flag.StringVar(&opts.query, "query", "", "Question to be answered")
	flag.StringVar(&opts.evaluate, "evaluate", "", "Evaluation dataset to score the pipeline against")
	flag.StringVar(&opts.format, "format", "jsonl", "Evaluation dataset format: jsonl or nq")
	flag.BoolVar(&opts.rebuild, "rebuild", false, "Clear the index before ingesting")
	flag.BoolVar(&opts.serve, "serve", false, "Serve the HTTP API")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Parse and chunk the files, print the chunks, index nothing")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		helper.SetupLogger("info", true)
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Interface("config", cfg.RAG).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Failed")
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	if opts.dryRun {
		return dryRun(cfg, splitList(opts.files))
	}
	if opts.files == "" && opts.url == "" && opts.query == "" && opts.evaluate == "" && !opts.serve {
		flag.Usage()
		return errors.New("nothing to do: provide -file, -url, -query, -evaluate or -serve")
	}

	pipeline, closeAll, err := rag.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error building pipeline: %w", err)
	}
	defer func() {
		if err := closeAll(); err != nil {
			log.Warn().Err(err).Msg("Error releasing resources")
		}
	}()

	if err := pipeline.Open(ctx, opts.rebuild); err != nil {
		return fmt.Errorf("error opening index: %w", err)
	}

	var docs []models.Document
	if files := splitList(opts.files); len(files) > 0 {
		loaded, err := parser.LoadFiles(files)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
	}
	if opts.url != "" {
		doc, err := parser.NewURLLoader(cfg.EmbedLLM.Timeout).LoadURL(ctx, opts.url)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if len(docs) > 0 {
		stats, err := pipeline.Ingest(ctx, docs)
		if err != nil {
			return fmt.Errorf("error ingesting documents: %w", err)
		}
		log.Info().Int("documents", stats.Documents).Int("chunks", stats.Chunks).Int("entries", pipeline.Index().Len()).Msg("Index updated")
	}

	if opts.evaluate != "" {
		if err := evaluate(ctx, cfg, pipeline, opts); err != nil {
			return err
		}
	}

	if opts.query != "" {
		if err := answer(ctx, pipeline, opts.query); err != nil {
			return err
		}
	}

	if opts.serve {
		return server.NewServer(pipeline).ListenAndServe(ctx, cfg.Server.Addr)
	}
	return nil
}

func answer(ctx context.Context, pipeline *rag.Pipeline, query string) error {
	res, err := pipeline.Answer(ctx, query)
	if err != nil {
		return fmt.Errorf("error querying: %w", err)
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for i, s := range res.Sources {
		fmt.Printf("[S%d] %s (%s, score %.3f)\n", i+1, s.Source, s.ChunkID, s.Score)
	}
	if !res.Attributed {
		fmt.Println("(answer could not be attributed to specific sources)")
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", res.Answer)

	log.Debug().Interface("metrics", res.Metrics).Msg("Answer diagnostics")
	return nil
}

func evaluate(ctx context.Context, cfg *config.Config, pipeline *rag.Pipeline, opts options) error {
	var (
		records []models.EvaluationRecord
		err     error
	)
	switch opts.format {
	case "nq":
		// NQ ships its own knowledge base
		if opts.rebuild || pipeline.Index().Len() == 0 {
			docs, _, err := evaluation.LoadNQDocuments(opts.evaluate, cfg.Evaluation.MaxDocs)
			if err != nil {
				return err
			}
			if _, err := pipeline.Ingest(ctx, docs); err != nil {
				return fmt.Errorf("error ingesting NQ documents: %w", err)
			}
		}
		records, _, err = evaluation.LoadNQ(opts.evaluate, cfg.Evaluation.MaxQuestions)
	case "jsonl", "json":
		records, err = evaluation.LoadRecords(opts.evaluate)
		if err == nil && cfg.Evaluation.MaxQuestions > 0 && len(records) > cfg.Evaluation.MaxQuestions {
			records = records[:cfg.Evaluation.MaxQuestions]
		}
	default:
		return fmt.Errorf("%w: unknown dataset format %q", models.ErrInvalidConfig, opts.format)
	}
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := evaluation.New(pipeline, pipeline.Embedder(), cfg.Evaluation).Evaluate(ctx, records)
	if err != nil {
		return fmt.Errorf("error evaluating: %w", err)
	}
	jsonPath, csvPath, err := evaluation.WriteReport(cfg.Evaluation.Output, report)
	if err != nil {
		return err
	}
	fmt.Println(evaluation.Summary(report))
	log.Info().Str("json", jsonPath).Str("csv", csvPath).Dur("took", time.Since(start)).Msg("Evaluation report written")
	return nil
}

func dryRun(cfg *config.Config, files []string) error {
	if len(files) == 0 {
		return errors.New("-dry-run needs -file")
	}
	ch, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.ChunkUnit)
	if err != nil {
		return err
	}
	docs, err := parser.LoadFiles(files)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		chunks := ch.Chunk(doc)
		log.Info().Str("source", doc.SourceURI).Int("chunks", len(chunks)).Msg("Parsed content")
		helper.PrettyPrint(chunks)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
