// Package storage indexes normalized events into OpenSearch.
package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/cloudlog/internal/event"
	"github.com/telhawk-systems/cloudlog/internal/logging"
	"github.com/telhawk-systems/cloudlog/internal/metrics"
)

// Sink accepts normalized events.
type Sink interface {
	Index(ctx context.Context, source string, rec *event.Record) error
	Close(ctx context.Context) error
}

// Config holds OpenSearch connection and bulk settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
	FlushBytes    int
	FlushInterval time.Duration
	NumWorkers    int
}

// DefaultConfig returns sensible defaults for OpenSearch configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		TLSSkipVerify: true,
		IndexPrefix:   "cloudlog",
		FlushBytes:    5 << 20,
		FlushInterval: 5 * time.Second,
		NumWorkers:    2,
	}
}

// Client streams documents through a long-lived bulk indexer.
type Client struct {
	osClient *opensearch.Client
	bulk     opensearchutil.BulkIndexer
	config   Config
	logger   *logging.Logger
	failed   uint64
}

// NewClient creates the OpenSearch client and starts the bulk indexer.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	c := &Client{osClient: osClient, config: cfg, logger: logger}

	bulk, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        osClient,
		NumWorkers:    cfg.NumWorkers,
		FlushBytes:    cfg.FlushBytes,
		FlushInterval: cfg.FlushInterval,
		OnError: func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "bulk indexer error", logging.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}
	c.bulk = bulk

	return c, nil
}

// Initialize verifies connectivity and installs the index template.
func (c *Client) Initialize(ctx context.Context) error {
	info, err := c.osClient.Info(c.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	body, err := json.Marshal(IndexTemplate(c.config.IndexPrefix))
	if err != nil {
		return err
	}
	res, err := c.osClient.Indices.PutIndexTemplate(
		c.config.IndexPrefix+"-template",
		bytes.NewReader(body),
		c.osClient.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(msg))
	}

	c.logger.InfoContext(ctx, "opensearch initialized", "index_prefix", c.config.IndexPrefix)
	return nil
}

// IndexName returns the daily index for source at ts.
func (c *Client) IndexName(source string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%s", c.config.IndexPrefix, source, ts.UTC().Format("2006.01.02"))
}

// Index queues rec. Events with an id are indexed under it so redeliveries overwrite.
func (c *Client) Index(ctx context.Context, source string, rec *event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	item := opensearchutil.BulkIndexerItem{
		Index:  c.IndexName(source, rec.Timestamp),
		Action: "index",
		Body:   bytes.NewReader(data),
		OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
			metrics.IndexedTotal.WithLabelValues("success").Inc()
		},
		OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
			atomic.AddUint64(&c.failed, 1)
			metrics.IndexedTotal.WithLabelValues("failure").Inc()
			if err == nil {
				err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
			}
			c.logger.WarnContext(ctx, "document rejected", "index", item.Index, logging.Error(err))
		},
	}
	if id, ok := rec.Fields.GetString("event.id"); ok {
		item.DocumentID = id
	}

	if err := c.bulk.Add(ctx, item); err != nil {
		return fmt.Errorf("add to bulk indexer: %w", err)
	}
	return nil
}

// Stats returns bulk indexer counters.
func (c *Client) Stats() map[string]interface{} {
	s := c.bulk.Stats()
	return map[string]interface{}{
		"added":   s.NumAdded,
		"flushed": s.NumFlushed,
		"indexed": s.NumIndexed,
		"failed":  atomic.LoadUint64(&c.failed),
	}
}

// Close flushes pending documents.
func (c *Client) Close(ctx context.Context) error {
	if err := c.bulk.Close(ctx); err != nil {
		return fmt.Errorf("bulk indexer close: %w", err)
	}
	return nil
}

// IndexTemplate maps the canonical fields shared by every source.
func IndexTemplate(prefix string) map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"index_patterns": []string{prefix + "-*"},
		"priority":       100,
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 0,
				"codec":              "best_compression",
			},
			"mappings": map[string]interface{}{
				"dynamic": true,
				"dynamic_templates": []map[string]interface{}{
					{
						"strings_as_keywords": map[string]interface{}{
							"match_mapping_type": "string",
							"mapping":            map[string]interface{}{"type": "keyword", "ignore_above": 1024},
						},
					},
				},
				"properties": map[string]interface{}{
					"@timestamp": map[string]interface{}{"type": "date"},
					"event": map[string]interface{}{
						"properties": map[string]interface{}{
							"id":       keyword,
							"kind":     keyword,
							"outcome":  keyword,
							"action":   keyword,
							"reason":   map[string]interface{}{"type": "text"},
							"original": map[string]interface{}{"type": "text", "index": false},
						},
					},
					"source":     map[string]interface{}{"properties": map[string]interface{}{"ip": map[string]interface{}{"type": "ip"}}},
					"user":       map[string]interface{}{"properties": map[string]interface{}{"email": keyword}},
					"service":    map[string]interface{}{"properties": map[string]interface{}{"name": keyword}},
					"user_agent": map[string]interface{}{"properties": map[string]interface{}{"original": keyword}},
					"log":        map[string]interface{}{"properties": map[string]interface{}{"logger": keyword}},
					"cloud": map[string]interface{}{
						"properties": map[string]interface{}{
							"project":  map[string]interface{}{"properties": map[string]interface{}{"id": keyword}},
							"instance": map[string]interface{}{"properties": map[string]interface{}{"id": keyword}},
						},
					},
					"orchestrator": map[string]interface{}{
						"properties": map[string]interface{}{
							"type":    keyword,
							"cluster": map[string]interface{}{"properties": map[string]interface{}{"name": keyword}},
						},
					},
					"gcp": map[string]interface{}{"type": "object"},
				},
			},
		},
	}
}
