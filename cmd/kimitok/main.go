package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kimitok/internal/pkg/kimitok/config"
	"kimitok/internal/pkg/kimitok/fetch"
	"kimitok/internal/pkg/kimitok/server"
	"kimitok/internal/pkg/kimitok/service"
	"kimitok/internal/pkg/kimitok/tokenizer"
	"kimitok/internal/pkg/kimitok/vocab"
)

const (
	modelFile  = "tiktoken.model"
	configFile = "tokenizer_config.json"
)

func main() {
	fmt.Fprintf(os.Stderr, "kimitok %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	log.Debug().
		Str("repo_id", cfg.RepoID).
		Str("revision", cfg.Revision).
		Str("cache_dir", cfg.CacheDir).
		Str("special_policy", cfg.SpecialPolicy).
		Bool("serve", cfg.Serve).
		Msg("Configuration loaded")

	modelPath := filepath.Join(cfg.ArtifactDir(), modelFile)
	configPath := filepath.Join(cfg.ArtifactDir(), configFile)

	client := fetch.New(cfg.FetchTimeout)
	ctx := context.Background()
	for path, name := range map[string]string{modelPath: modelFile, configPath: configFile} {
		url := client.ResolveURL(cfg.RepoID, cfg.Revision, name)
		if err := client.DownloadIfMissing(ctx, path, url); err != nil {
			log.Fatal().Err(err).Str("url", url).Msg("Failed to fetch artifact")
		}
	}

	if cfg.DownloadOnly {
		log.Info().Str("dir", cfg.ArtifactDir()).Msg("Artifacts downloaded")
		return
	}

	log.Info().Str("model", modelPath).Msg("Loading vocabulary...")
	table, err := vocab.Load(modelPath, configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vocabulary")
	}

	log.Debug().
		Int("base_tokens", table.BaseSize()).
		Int("total_tokens", table.TotalSize()).
		Msg("Vocabulary loaded")

	svc := service.New(tokenizer.New(table), cfg.RepoID, cfg.Revision)
	svc.SetWorkers(cfg.Workers)
	if cfg.SpecialPolicy != "" {
		policy, err := tokenizer.ParsePolicy(cfg.SpecialPolicy)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid special-token policy")
		}
		svc.ForcePolicy(policy)
	}

	if cfg.Serve {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			log.Fatal().Err(err).Str("listen", cfg.Listen).Msg("Failed to listen")
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("Serving tokenizer")
		if err := server.New(svc).Serve(ln); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
		return
	}

	req, err := readRequest(cfg.InputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read tokenize request")
	}

	resp, err := svc.Tokenize(ctx, *req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to tokenize")
	}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(resp); err != nil {
		log.Fatal().Err(err).Msg("Failed to write response")
	}
}

func readRequest(path string) (*service.Request, error) {
	var raw []byte
	var err error
	if path == "" || path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var req service.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}
