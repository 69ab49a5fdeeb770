package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Elastic  ElasticConfig  `yaml:"elasticsearch"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
}

type ElasticConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
	// ModelID is the deployed model referenced by text_expansion queries.
	ModelID string `yaml:"model_id"`
	// ElserField is the rank_features field the ingest pipeline writes
	// expansions into; queries and the stack checker must agree on it.
	ElserField string `yaml:"elser_field"`
	PipelineID string `yaml:"pipeline_id"`
	// TrainedModelID is the ELSER model the deployment runs (.elser_model_2).
	TrainedModelID string `yaml:"trained_model_id"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	BatchSize int    `yaml:"batch_size"`
}

type LLMConfig struct {
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	ContextChars int     `yaml:"context_chars"`
}

type SearchConfig struct {
	Size int `yaml:"size"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"sift.yaml",
			"config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/sift/config.yaml"),
			"/etc/sift/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Elastic.URL == "" {
		config.Elastic.URL = "http://localhost:9200"
	}
	if config.Elastic.Username == "" {
		config.Elastic.Username = "elastic"
	}
	if config.Elastic.Password == "" {
		config.Elastic.Password = "changeme"
	}
	if config.Elastic.Index == "" {
		config.Elastic.Index = "oracle_elser_index_v2"
	}
	if config.Elastic.ModelID == "" {
		config.Elastic.ModelID = "elser-oracle"
	}
	if config.Elastic.ElserField == "" {
		config.Elastic.ElserField = "ml.inference.body_expanded"
	}
	if config.Elastic.PipelineID == "" {
		config.Elastic.PipelineID = "elser_oracle_pipeline"
	}
	if config.Elastic.TrainedModelID == "" {
		config.Elastic.TrainedModelID = ".elser_model_2"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "docs"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3.1:8b"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.ContextChars == 0 {
		config.LLM.ContextChars = 6000
	}

	if config.Search.Size == 0 {
		config.Search.Size = 5
	}
}

// mergeWithEnv applies the .env contract shared with the rest of the
// stack (shipper, compose files). Environment beats the config file.
func mergeWithEnv(config *Config) {
	if v := os.Getenv("ES_URL"); v != "" {
		config.Elastic.URL = v
	}
	if v := os.Getenv("ES_USER"); v != "" {
		config.Elastic.Username = v
	}
	if v := os.Getenv("ES_PASS"); v != "" {
		config.Elastic.Password = v
	} else if v := os.Getenv("ELASTIC_PASSWORD"); v != "" {
		config.Elastic.Password = v
	}
	if v := os.Getenv("ES_INDEX"); v != "" {
		config.Elastic.Index = v
	}
	if v := os.Getenv("ES_MODEL"); v != "" {
		config.Elastic.ModelID = v
	}
	if v := os.Getenv("ES_ELSER_FIELD"); v != "" {
		config.Elastic.ElserField = v
	}
	if v := os.Getenv("ES_INGEST_PIPELINE"); v != "" {
		config.Elastic.PipelineID = v
	}
	if v := os.Getenv("ELSER_MODEL_ID"); v != "" {
		config.Elastic.TrainedModelID = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		config.LLM.BaseURL = v
	} else if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		config.LLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		config.LLM.Model = v
	}
}
