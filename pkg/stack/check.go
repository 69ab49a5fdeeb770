package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/fatih/color"
	"golang.org/x/time/rate"
)

type CheckConfig struct {
	ESURL          string
	Username       string
	Password       string
	Index          string
	PipelineID     string
	TrainedModelID string
	ElserField     string
	OllamaHost     string
	OllamaModel    string
	// Fix provisions missing pieces; without it the checker is read-only.
	Fix           bool
	DeployTimeout time.Duration
	PollInterval  time.Duration
	Transport     http.RoundTripper // overridable for tests
	Out           io.Writer
}

// Checker verifies the search side of the stack: Elasticsearch, the
// ELSER deployment, the ingest pipeline, the index, and Ollama.
type Checker struct {
	config CheckConfig
	es     *elasticsearch.Client
	http   *http.Client
	out    io.Writer
}

func NewWithConfig(config CheckConfig) (*Checker, error) {
	if config.ESURL == "" {
		config.ESURL = "http://localhost:9200"
	}
	if config.Index == "" {
		config.Index = "oracle_elser_index_v2"
	}
	if config.PipelineID == "" {
		config.PipelineID = "elser_oracle_pipeline"
	}
	if config.TrainedModelID == "" {
		config.TrainedModelID = ".elser_model_2"
	}
	if config.ElserField == "" {
		config.ElserField = "ml.inference.body_expanded"
	}
	if config.OllamaHost == "" {
		config.OllamaHost = "http://localhost:11434"
	}
	if config.DeployTimeout == 0 {
		config.DeployTimeout = 10 * time.Minute
	}
	if config.PollInterval == 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{config.ESURL},
		Username:  config.Username,
		Password:  config.Password,
		Transport: config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Elasticsearch client: %v", err)
	}

	return &Checker{
		config: config,
		es:     es,
		http:   &http.Client{Timeout: 20 * time.Second, Transport: config.Transport},
		out:    config.Out,
	}, nil
}

// Run executes every check in order. It returns 0 when nothing failed,
// otherwise the number of the first failing step.
func (c *Checker) Run(ctx context.Context) int {
	c.heading("0) Mode")
	if c.config.Fix {
		fmt.Fprintln(c.out, "Fix mode: ON (--fix)")
	} else {
		fmt.Fprintln(c.out, "Fix mode: OFF (read-only)")
	}

	c.heading("1) Elasticsearch: reachability + license")
	if err := c.checkReachable(ctx); err != nil {
		c.fail(fmt.Sprintf("Elasticsearch not reachable at %s: %v", c.config.ESURL, err))
		return 1
	}
	c.reportLicense(ctx)

	c.heading("2) ML: trained models")
	models, err := c.listTrainedModels(ctx)
	if err != nil {
		c.fail(fmt.Sprintf("cannot list trained models: %v", err))
		return 2
	}
	haveModel := false
	for _, m := range models {
		if m == c.config.TrainedModelID {
			haveModel = true
			break
		}
	}
	if haveModel {
		c.ok(fmt.Sprintf("ELSER model found: %s", c.config.TrainedModelID))
	} else {
		c.warn(fmt.Sprintf("ELSER model NOT found: %s", c.config.TrainedModelID))
		// The model archive download has no stable typed API; point at
		// the REST call instead of guessing.
		fmt.Fprintf(c.out, "To download it once:\n  curl -u %s -XPOST %s/_ml/trained_models/%s/_download\n",
			c.config.Username, c.config.ESURL, c.config.TrainedModelID)
	}

	c.heading("3) ML: deployment state")
	if haveModel {
		if err := c.ensureDeployment(ctx); err != nil {
			c.fail(fmt.Sprintf("ELSER deployment: %v", err))
			return 3
		}
	} else {
		c.warn("skipping deployment check (model missing)")
	}

	c.heading("4) Ingest pipeline")
	if err := c.ensurePipeline(ctx); err != nil {
		c.fail(fmt.Sprintf("ingest pipeline %s: %v", c.config.PipelineID, err))
		return 4
	}

	c.heading("5) Index mapping")
	if err := c.ensureIndex(ctx); err != nil {
		c.fail(fmt.Sprintf("index %s: %v", c.config.Index, err))
		return 5
	}

	c.heading("6) Document count")
	if count, err := c.countDocs(ctx); err != nil {
		c.warn(fmt.Sprintf("count failed: %v", err))
	} else {
		c.ok(fmt.Sprintf("%s holds %d documents", c.config.Index, count))
	}

	c.heading("7) Ollama")
	c.checkOllama(ctx)

	return 0
}

// checkReachable pings the cluster, retrying transient failures with
// exponential backoff; auth and client errors fail immediately.
func (c *Checker) checkReachable(ctx context.Context) error {
	var version, cluster string

	op := func() error {
		res, err := c.es.Info(c.es.Info.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode >= 500 {
			return fmt.Errorf("HTTP %s", res.Status())
		}
		if res.IsError() {
			return backoff.Permanent(fmt.Errorf("HTTP %s (auth?)", res.Status()))
		}

		var info struct {
			ClusterName string `json:"cluster_name"`
			Version     struct {
				Number string `json:"number"`
			} `json:"version"`
		}
		if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse info response: %v", err))
		}
		version = info.Version.Number
		cluster = info.ClusterName
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}

	c.ok(fmt.Sprintf("Elasticsearch reachable at %s (cluster=%s, version=%s)",
		c.config.ESURL, cluster, version))
	return nil
}

func (c *Checker) reportLicense(ctx context.Context) {
	res, err := c.es.License.Get(c.es.License.Get.WithContext(ctx))
	if err != nil {
		c.warn(fmt.Sprintf("license lookup failed: %v", err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		c.warn(fmt.Sprintf("license lookup returned %s", res.Status()))
		return
	}

	var lic struct {
		License struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"license"`
	}
	if err := json.NewDecoder(res.Body).Decode(&lic); err != nil {
		c.warn(fmt.Sprintf("failed to parse license response: %v", err))
		return
	}
	c.ok(fmt.Sprintf("license: type=%s status=%s", lic.License.Type, lic.License.Status))
}

func (c *Checker) listTrainedModels(ctx context.Context) ([]string, error) {
	res, err := c.es.ML.GetTrainedModels(
		c.es.ML.GetTrainedModels.WithContext(ctx),
		c.es.ML.GetTrainedModels.WithSize(200),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("HTTP %s", res.Status())
	}

	var out struct {
		Configs []struct {
			ModelID string `json:"model_id"`
		} `json:"trained_model_configs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse trained models response: %v", err)
	}

	ids := make([]string, 0, len(out.Configs))
	for _, m := range out.Configs {
		ids = append(ids, m.ModelID)
	}
	return ids, nil
}

func (c *Checker) deploymentState(ctx context.Context) (string, error) {
	res, err := c.es.ML.GetTrainedModelsStats(
		c.es.ML.GetTrainedModelsStats.WithContext(ctx),
		c.es.ML.GetTrainedModelsStats.WithModelID(c.config.TrainedModelID),
	)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", fmt.Errorf("HTTP %s", res.Status())
	}

	var out struct {
		Stats []struct {
			DeploymentStats struct {
				State string `json:"state"`
			} `json:"deployment_stats"`
		} `json:"trained_model_stats"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse stats response: %v", err)
	}
	if len(out.Stats) == 0 {
		return "", nil
	}
	return out.Stats[0].DeploymentStats.State, nil
}

func (c *Checker) ensureDeployment(ctx context.Context) error {
	state, err := c.deploymentState(ctx)
	if err != nil {
		return err
	}
	if state == "started" {
		c.ok("deployment started")
		return nil
	}

	if !c.config.Fix {
		c.warn(fmt.Sprintf("deployment not started (state=%q); rerun with --fix", state))
		return nil
	}

	res, err := c.es.ML.StartTrainedModelDeployment(
		c.config.TrainedModelID,
		c.es.ML.StartTrainedModelDeployment.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("start request failed: %v", err)
	}
	res.Body.Close()
	// 409 means a deployment is already starting; poll it like any other.
	if res.IsError() && res.StatusCode != http.StatusConflict {
		return fmt.Errorf("start request returned %s", res.Status())
	}

	return c.waitForDeployment(ctx)
}

// waitForDeployment polls the deployment state, paced by a rate limiter
// so repeated runs cannot hammer the ML endpoints.
func (c *Checker) waitForDeployment(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(c.config.PollInterval), 1)
	deadline := time.Now().Add(c.config.DeployTimeout)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		state, err := c.deploymentState(ctx)
		if err == nil && state == "started" {
			c.ok("deployment started")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s (state=%q)", c.config.DeployTimeout, state)
		}
		fmt.Fprintf(c.out, "[WAIT] ELSER deployment: state=%q\n", state)
	}
}

func (c *Checker) ensurePipeline(ctx context.Context) error {
	res, err := c.es.Ingest.GetPipeline(
		c.es.Ingest.GetPipeline.WithContext(ctx),
		c.es.Ingest.GetPipeline.WithPipelineID(c.config.PipelineID),
	)
	if err != nil {
		return err
	}
	res.Body.Close()
	if !res.IsError() {
		c.ok(fmt.Sprintf("ingest pipeline exists: %s", c.config.PipelineID))
		if !c.config.Fix {
			return nil
		}
	} else if !c.config.Fix {
		c.warn(fmt.Sprintf("ingest pipeline missing (HTTP %s); rerun with --fix", res.Status()))
		return nil
	}

	body := map[string]interface{}{
		"processors": []interface{}{
			map[string]interface{}{
				"inference": map[string]interface{}{
					"model_id": c.config.TrainedModelID,
					"input_output": []interface{}{
						map[string]interface{}{
							"input_field":  "content",
							"output_field": c.config.ElserField,
						},
					},
					"inference_config": map[string]interface{}{
						"text_expansion": map[string]interface{}{},
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("failed to encode pipeline: %v", err)
	}

	put, err := c.es.Ingest.PutPipeline(
		c.config.PipelineID, &buf,
		c.es.Ingest.PutPipeline.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	put.Body.Close()
	if put.IsError() {
		return fmt.Errorf("put returned %s", put.Status())
	}
	c.ok(fmt.Sprintf("ingest pipeline ready: %s", c.config.PipelineID))
	return nil
}

func (c *Checker) ensureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists(
		[]string{c.config.Index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	res.Body.Close()
	exists := res.StatusCode == http.StatusOK

	if !c.config.Fix {
		if exists {
			c.ok(fmt.Sprintf("index exists: %s", c.config.Index))
		} else {
			c.warn(fmt.Sprintf("index missing: %s; rerun with --fix", c.config.Index))
		}
		return nil
	}

	// Recreate so the rank_features mapping is guaranteed correct; the
	// shipper will refill the index from the staging table.
	if exists {
		del, err := c.es.Indices.Delete(
			[]string{c.config.Index},
			c.es.Indices.Delete.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		del.Body.Close()
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(indexMapping(c.config.ElserField)); err != nil {
		return fmt.Errorf("failed to encode mapping: %v", err)
	}

	create, err := c.es.Indices.Create(
		c.config.Index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return err
	}
	create.Body.Close()
	if create.IsError() {
		return fmt.Errorf("create returned %s", create.Status())
	}
	c.ok(fmt.Sprintf("index ready: %s", c.config.Index))
	return nil
}

func (c *Checker) countDocs(ctx context.Context) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.config.Index),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("HTTP %s", res.Status())
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to parse count response: %v", err)
	}
	return out.Count, nil
}

func (c *Checker) checkOllama(ctx context.Context) {
	url := strings.TrimRight(c.config.OllamaHost, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.warn(fmt.Sprintf("ollama request failed: %v", err))
		return
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.warn(fmt.Sprintf("Ollama not reachable at %s: %v", c.config.OllamaHost, err))
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		c.warn(fmt.Sprintf("Ollama at %s returned HTTP %d", c.config.OllamaHost, res.StatusCode))
		return
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tags); err != nil {
		c.warn(fmt.Sprintf("failed to parse Ollama tags: %v", err))
		return
	}

	c.ok(fmt.Sprintf("Ollama reachable at %s (%d models)", c.config.OllamaHost, len(tags.Models)))
	if c.config.OllamaModel == "" {
		return
	}

	base := strings.SplitN(c.config.OllamaModel, ":", 2)[0]
	for _, m := range tags.Models {
		if m.Name == c.config.OllamaModel || strings.SplitN(m.Name, ":", 2)[0] == base {
			c.ok(fmt.Sprintf("model available: %s", m.Name))
			return
		}
	}
	c.warn(fmt.Sprintf("model NOT pulled: %s (ollama pull %s)", c.config.OllamaModel, c.config.OllamaModel))
}

// indexMapping builds the index mapping with the expansion field typed
// rank_features, however deep its dotted path nests.
func indexMapping(elserField string) map[string]interface{} {
	props := map[string]interface{}{
		"id":         map[string]interface{}{"type": "keyword"},
		"title":      map[string]interface{}{"type": "text"},
		"body":       map[string]interface{}{"type": "text"},
		"content":    map[string]interface{}{"type": "text"},
		"updated_at": map[string]interface{}{"type": "date"},
	}
	mergeFieldPath(props, strings.Split(elserField, "."), "rank_features")

	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": props,
		},
	}
}

func mergeFieldPath(props map[string]interface{}, path []string, typ string) {
	head := path[0]
	if len(path) == 1 {
		props[head] = map[string]interface{}{"type": typ}
		return
	}

	node, ok := props[head].(map[string]interface{})
	if !ok {
		node = map[string]interface{}{}
		props[head] = node
	}
	sub, ok := node["properties"].(map[string]interface{})
	if !ok {
		sub = map[string]interface{}{}
		node["properties"] = sub
	}
	mergeFieldPath(sub, path[1:], typ)
}

func (c *Checker) heading(title string) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, strings.Repeat("=", 90))
	fmt.Fprintln(c.out, title)
	fmt.Fprintln(c.out, strings.Repeat("=", 90))
}

func (c *Checker) ok(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", color.GreenString("[OK]"), msg)
}

func (c *Checker) warn(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", color.YellowString("[WARN]"), msg)
}

func (c *Checker) fail(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", color.RedString("[FAIL]"), msg)
}
