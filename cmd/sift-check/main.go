package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/ferd/sift/pkg/config"
	"github.com/ferd/sift/pkg/stack"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var configPath, esURL string
	var fix bool

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&esURL, "es-url", "", "Elasticsearch URL")
	flag.BoolVar(&fix, "fix", false, "Provision missing pieces (default: read-only)")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if esURL != "" {
		cfg.Elastic.URL = esURL
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	checker, err := stack.NewWithConfig(stack.CheckConfig{
		ESURL:          cfg.Elastic.URL,
		Username:       cfg.Elastic.Username,
		Password:       cfg.Elastic.Password,
		Index:          cfg.Elastic.Index,
		PipelineID:     cfg.Elastic.PipelineID,
		TrainedModelID: cfg.Elastic.TrainedModelID,
		ElserField:     cfg.Elastic.ElserField,
		OllamaHost:     cfg.LLM.BaseURL,
		OllamaModel:    cfg.LLM.Model,
		Fix:            fix,
	})
	if err != nil {
		stop()
		log.Fatal(err)
	}

	code := checker.Run(ctx)
	stop()
	os.Exit(code)
}
