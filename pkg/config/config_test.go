package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
elasticsearch:
  url: "http://localhost:9200"
  username: "elastic"
  password: "secret"
  index: "incidents_v3"
  model_id: "elser-incidents"
  elser_field: "ml.tokens"

database:
  url: "postgres://localhost:5432/test"
  table_name: "incident_docs"
  batch_size: 50

llm:
  base_url: "http://localhost:11434"
  model: "llama3.1:8b"
  max_tokens: 1000
  temperature: 0.5
  context_chars: 4000

search:
  size: 10
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9200", config.Elastic.URL)
	assert.Equal(t, "incidents_v3", config.Elastic.Index)
	assert.Equal(t, "elser-incidents", config.Elastic.ModelID)
	assert.Equal(t, "ml.tokens", config.Elastic.ElserField)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, "incident_docs", config.Database.TableName)
	assert.Equal(t, 50, config.Database.BatchSize)
	assert.Equal(t, "llama3.1:8b", config.LLM.Model)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, 4000, config.LLM.ContextChars)
	assert.Equal(t, 10, config.Search.Size)
}

func TestLoadConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("{}\n"), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9200", config.Elastic.URL)
	assert.Equal(t, "oracle_elser_index_v2", config.Elastic.Index)
	assert.Equal(t, "ml.inference.body_expanded", config.Elastic.ElserField)
	assert.Equal(t, "elser_oracle_pipeline", config.Elastic.PipelineID)
	assert.Equal(t, ".elser_model_2", config.Elastic.TrainedModelID)
	assert.Equal(t, "docs", config.Database.TableName)
	assert.Equal(t, 100, config.Database.BatchSize)
	assert.Equal(t, 6000, config.LLM.ContextChars)
	assert.Equal(t, 5, config.Search.Size)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			mutate:       func(c *Config) {},
			expectedErrs: 0,
		},
		{
			name: "missing elasticsearch url",
			mutate: func(c *Config) {
				c.Elastic.URL = ""
			},
			expectedErrs:  1,
			errorMessages: []string{"elasticsearch.url: Elasticsearch URL is required"},
		},
		{
			name: "bad urls and ranges",
			mutate: func(c *Config) {
				c.Elastic.URL = "not a url"
				c.LLM.BaseURL = "also not a url"
				c.LLM.MaxTokens = 5000
				c.LLM.Temperature = 3.0
				c.Search.Size = 0
			},
			expectedErrs: 5,
			errorMessages: []string{
				"elasticsearch.url: invalid Elasticsearch URL",
				"llm.base_url: invalid Ollama base URL",
				"llm.max_tokens: max_tokens must be between 1 and 4096",
				"llm.temperature: temperature must be between 0 and 2",
				"search.size: size must be positive",
			},
		},
		{
			name: "sql-unsafe table name",
			mutate: func(c *Config) {
				c.Database.TableName = "docs; drop table docs"
			},
			expectedErrs:  1,
			errorMessages: []string{"database.table_name: invalid table name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			errors := config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ES_URL", "http://env-es:9200")
	t.Setenv("ELASTIC_PASSWORD", "env-secret")
	t.Setenv("ES_INDEX", "env_index")
	t.Setenv("OLLAMA_HOST", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-es:9200", config.Elastic.URL)
	assert.Equal(t, "env-secret", config.Elastic.Password)
	assert.Equal(t, "env_index", config.Elastic.Index)
	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
}

func TestEnvironmentPasswordPrecedence(t *testing.T) {
	t.Setenv("ES_PASS", "explicit")
	t.Setenv("ELASTIC_PASSWORD", "fallback")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "explicit", config.Elastic.Password)
}
