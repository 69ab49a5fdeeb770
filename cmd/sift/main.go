package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/ferd/sift/internal/models"
	"github.com/ferd/sift/pkg/config"
	"github.com/ferd/sift/pkg/llm"
	"github.com/ferd/sift/pkg/search"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
)

// Default question when none is given, mirroring how the index is
// typically queried during smoke tests.
const defaultQuery = "incident case description: service outage or system down; " +
	"location and status; opened date; resolution or mitigation steps"

type Options struct {
	Size         int
	Answer       bool
	ContextChars int
	Query        string
}

func main() {
	_ = godotenv.Load()

	cfg, opts := parseFlags()

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (*config.Config, Options) {
	var opts Options
	var configPath, esURL, index, ollamaURL, model string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.IntVar(&opts.Size, "size", 0, "Number of hits to return")
	flag.BoolVar(&opts.Answer, "answer", false, "Also ask Ollama to answer using the top hits as context")
	flag.IntVar(&opts.ContextChars, "context-chars", 0, "Max context length passed to the LLM")
	flag.StringVar(&esURL, "es-url", "", "Elasticsearch URL")
	flag.StringVar(&index, "index", "", "Search index name")
	flag.StringVar(&ollamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&model, "model", "", "Ollama model for answer generation")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags beat file and environment
	if esURL != "" {
		cfg.Elastic.URL = esURL
	}
	if index != "" {
		cfg.Elastic.Index = index
	}
	if ollamaURL != "" {
		cfg.LLM.BaseURL = ollamaURL
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if opts.Size > 0 {
		cfg.Search.Size = opts.Size
	}
	if opts.ContextChars > 0 {
		cfg.LLM.ContextChars = opts.ContextChars
	}

	opts.Query = strings.TrimSpace(strings.Join(flag.Args(), " "))
	if opts.Query == "" {
		opts.Query = defaultQuery
	}

	return cfg, opts
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(ctx context.Context, cfg *config.Config, opts Options) error {
	searcher, err := search.NewWithConfig(search.SearchConfig{
		URL:        cfg.Elastic.URL,
		Username:   cfg.Elastic.Username,
		Password:   cfg.Elastic.Password,
		Index:      cfg.Elastic.Index,
		ModelID:    cfg.Elastic.ModelID,
		ElserField: cfg.Elastic.ElserField,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize search client: %v", err)
	}

	version, err := searcher.Info(ctx)
	if err != nil {
		version = fmt.Sprintf("UNKNOWN (%v)", err)
	}

	fmt.Println("ES VERSION:", version)
	fmt.Println("INDEX:", cfg.Elastic.Index)
	fmt.Println("ELSER_MODEL:", cfg.Elastic.ModelID)
	fmt.Println("ELSER_FIELD:", cfg.Elastic.ElserField)
	if opts.Answer {
		fmt.Println("OLLAMA_HOST:", cfg.LLM.BaseURL)
		fmt.Println("OLLAMA_MODEL:", cfg.LLM.Model)
	}

	spinner := getSpinner(" Searching incidents...")
	hits, err := searcher.Search(ctx, opts.Query, cfg.Search.Size)
	spinner.Finish()
	fmt.Print("\r")

	if err != nil {
		return err
	}

	printHits(opts.Query, hits)

	if !opts.Answer {
		return nil
	}

	if len(hits) == 0 {
		color.Yellow("No matching documents; skipping answer generation.")
		return nil
	}

	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:        cfg.LLM.Model,
		BaseURL:      cfg.LLM.BaseURL,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		ContextChars: cfg.LLM.ContextChars,
	})
	if err != nil {
		reportAnswerFailure(cfg.LLM.BaseURL, err)
		return nil
	}

	fmt.Println("\n=========================")
	fmt.Println("GROUNDED ANSWER")
	fmt.Println("=========================")

	spinner = getSpinner(" Generating answer...")
	answer, err := engine.Answer(ctx, opts.Query, hits)
	spinner.Finish()
	fmt.Print("\r")

	if err != nil {
		// Retrieval already succeeded; degrade instead of failing the run.
		reportAnswerFailure(cfg.LLM.BaseURL, err)
		return nil
	}

	fmt.Println(answer)
	return nil
}

func printHits(query string, hits []models.SearchHit) {
	fmt.Printf("\nQuery: %s\n", query)
	fmt.Printf("Hits: %d\n", len(hits))

	if len(hits) == 0 {
		color.Yellow("No matching documents.")
		return
	}

	for _, h := range hits {
		fmt.Println("\n-------------------------")
		fmt.Printf("Score: %.4f\n", h.Score)
		fmt.Println("ID:", h.ID)
		fmt.Println("Title:", h.Title)
		fmt.Println("Body:", h.Body)
	}
}

func reportAnswerFailure(ollamaURL string, err error) {
	color.Red("answer generation failed: %v", err)
	color.Yellow("The retrieval results above are still valid.")
	color.Yellow("Tip: confirm Ollama is running: curl %s/api/tags", strings.TrimRight(ollamaURL, "/"))
}
