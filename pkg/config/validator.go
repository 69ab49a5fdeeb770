package config

import (
	"fmt"
	"net/url"
	"regexp"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Elasticsearch config
	if c.Elastic.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.url",
			Message: "Elasticsearch URL is required",
		})
	} else if u, err := url.Parse(c.Elastic.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.url",
			Message: "invalid Elasticsearch URL",
		})
	}

	if c.Elastic.Index == "" {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.index",
			Message: "index name is required",
		})
	}

	if c.Elastic.ElserField == "" {
		errors = append(errors, ValidationError{
			Field:   "elasticsearch.elser_field",
			Message: "elser_field is required",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	// The table name is interpolated into SQL, so keep it to a plain
	// identifier.
	if c.Database.TableName != "" && !tableNameRe.MatchString(c.Database.TableName) {
		errors = append(errors, ValidationError{
			Field:   "database.table_name",
			Message: fmt.Sprintf("invalid table name: %s", c.Database.TableName),
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.ContextChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.context_chars",
			Message: "context_chars must be positive",
		})
	}

	// Validate Search config
	if c.Search.Size < 1 {
		errors = append(errors, ValidationError{
			Field:   "search.size",
			Message: "size must be positive",
		})
	}

	return errors
}
