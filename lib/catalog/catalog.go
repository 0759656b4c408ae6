// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog reads rows from a datasets-server style preview API.
//
// The API is row-oriented: a dataset has configurations, each with
// splits, and a split is paged by row offset. Client keeps no state
// between calls beyond its credential; callers that want the split
// listing cached wrap Splits themselves.
//
// Error responses carry a JSON body of the form {"error": "..."} whose
// message decides the classification: gated and private datasets are
// AuthRequired, datasets that would need their loading script run are
// Unsupported, and anything else is Malformed with the server's text.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/dataview/lib/dataset"
	"github.com/bureau-foundation/dataview/lib/netutil"
	"github.com/bureau-foundation/dataview/lib/rangeio"
)

// DefaultEndpoint is the public datasets-server.
const DefaultEndpoint = "https://datasets-server.huggingface.co/"

// Row paging defaults.
const (
	DefaultLength = 25
	MaxLength     = 100
)

// Options configures a Client.
type Options struct {
	// Endpoint is the API base URL. Defaults to DefaultEndpoint.
	Endpoint string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string

	// Token is a bearer credential sent with every request.
	Token string

	Limiters *rangeio.Limiters

	// PageDefault and PageMax override DefaultLength and MaxLength.
	PageDefault int
	PageMax     int

	// MaxTextBytes caps string cells returned by MaterializeCell.
	MaxTextBytes int64

	// MaxAssetBytes caps asset downloads.
	MaxAssetBytes int64

	// AssetHosts extends the hosts assets may be downloaded from. The
	// endpoint's own host is always allowed.
	AssetHosts []string

	Logger *slog.Logger
}

// Client talks to one datasets-server endpoint. Safe for concurrent
// use.
type Client struct {
	endpoint *url.URL
	options  Options
	logger   *slog.Logger
	hosts    map[string]bool
}

var defaultAssetHosts = []string{
	"datasets-server.huggingface.co",
	"huggingface.co",
	"hf.co",
	"cdn-lfs.huggingface.co",
}

// New returns a Client for options.Endpoint.
func New(options Options) (*Client, error) {
	if options.Endpoint == "" {
		options.Endpoint = DefaultEndpoint
	}
	endpoint, err := url.Parse(options.Endpoint)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, fmt.Errorf("catalog endpoint %q is not an http(s) URL", options.Endpoint)
	}
	if !strings.HasSuffix(endpoint.Path, "/") {
		endpoint.Path += "/"
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.PageDefault <= 0 {
		options.PageDefault = DefaultLength
	}
	if options.PageMax <= 0 {
		options.PageMax = MaxLength
	}
	if options.MaxTextBytes <= 0 {
		options.MaxTextBytes = MaxTextBytes
	}
	if options.MaxAssetBytes <= 0 {
		options.MaxAssetBytes = MaxAssetBytes
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	hosts := make(map[string]bool)
	for _, host := range defaultAssetHosts {
		hosts[host] = true
	}
	for _, host := range options.AssetHosts {
		hosts[strings.ToLower(host)] = true
	}
	hosts[strings.ToLower(endpoint.Host)] = true

	return &Client{endpoint: endpoint, options: options, logger: logger, hosts: hosts}, nil
}

// WithToken returns a copy of c that sends token on every request.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.options.Token = token
	return &clone
}

// Endpoint returns the API base URL.
func (c *Client) Endpoint() string { return c.endpoint.String() }

// Splits lists the configurations of a dataset and their splits.
// Configurations are sorted by name; splits keep the server's order.
func (c *Client) Splits(ctx context.Context, datasetID string) ([]dataset.CatalogConfig, error) {
	var response struct {
		Splits []struct {
			Config string `json:"config"`
			Split  string `json:"split"`
		} `json:"splits"`
	}
	if err := c.get(ctx, "splits", url.Values{"dataset": {datasetID}}, &response); err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var configs []dataset.CatalogConfig
	for _, entry := range response.Splits {
		position, ok := index[entry.Config]
		if !ok {
			position = len(configs)
			index[entry.Config] = position
			configs = append(configs, dataset.CatalogConfig{Config: entry.Config})
		}
		configs[position].Splits = append(configs[position].Splits, entry.Split)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Config < configs[j].Config })
	if len(configs) == 0 {
		return nil, dataset.NotFound(datasetID, "dataset has no splits")
	}
	return configs, nil
}

// RowsRequest selects a page of rows. Empty Config and Split take the
// defaults; a non-positive Length takes the default page length.
type RowsRequest struct {
	Dataset string
	Config  string
	Split   string
	Offset  int64
	Length  int
}

// Rows returns one page of rows. An offset at or past the end of the
// split returns an empty, complete page.
func (c *Client) Rows(ctx context.Context, request RowsRequest) (dataset.CatalogPage, error) {
	if request.Offset < 0 {
		return dataset.CatalogPage{}, fmt.Errorf("negative row offset %d", request.Offset)
	}
	configs, err := c.Splits(ctx, request.Dataset)
	if err != nil {
		return dataset.CatalogPage{}, err
	}
	config, split, err := Resolve(configs, request.Config, request.Split)
	if err != nil {
		return dataset.CatalogPage{}, dataset.NotFound(request.Dataset, "%v", err)
	}
	length := c.clampLength(request.Length)

	var response rowsResponse
	query := url.Values{
		"dataset": {request.Dataset},
		"config":  {config},
		"split":   {split},
		"offset":  {strconv.FormatInt(request.Offset, 10)},
		"length":  {strconv.Itoa(length)},
	}
	if err := c.get(ctx, "rows", query, &response); err != nil {
		return dataset.CatalogPage{}, err
	}

	page := dataset.CatalogPage{
		Dataset: request.Dataset,
		Config:  config,
		Split:   split,
		Configs: configs,
		Offset:  request.Offset,
		Rows:    []map[string]any{},
		Schema:  response.schema(),
		Total:   response.NumRowsTotal,
		Partial: response.Partial,
	}
	if request.Offset >= response.NumRowsTotal {
		page.Partial = false
		return page, nil
	}
	for _, row := range response.Rows {
		page.Rows = append(page.Rows, row.Row)
	}
	page.Length = len(page.Rows)
	return page, nil
}

// Row fetches the single row at index.
func (c *Client) Row(ctx context.Context, datasetID, config, split string, index int64) (map[string]any, []dataset.Feature, error) {
	page, err := c.Rows(ctx, RowsRequest{Dataset: datasetID, Config: config, Split: split, Offset: index, Length: 1})
	if err != nil {
		return nil, nil, err
	}
	if len(page.Rows) == 0 {
		return nil, nil, dataset.NotFound(datasetID, "row %d not found in %s/%s (%d rows)", index, page.Config, page.Split, page.Total)
	}
	return page.Rows[0], page.Schema, nil
}

func (c *Client) clampLength(length int) int {
	if length <= 0 {
		length = c.options.PageDefault
	}
	return max(1, min(length, c.options.PageMax))
}

// Resolve picks the configuration and split a request names, applying
// the defaults for empty names: the first configuration in sorted
// order, and the "train" split, else the first split starting with
// "train", else the first split.
func Resolve(configs []dataset.CatalogConfig, config, split string) (string, string, error) {
	if len(configs) == 0 {
		return "", "", fmt.Errorf("no configurations")
	}
	selected := configs[0]
	if config != "" {
		found := false
		for _, candidate := range configs {
			if candidate.Config == config {
				selected, found = candidate, true
				break
			}
		}
		if !found {
			return "", "", fmt.Errorf("unknown config %q", config)
		}
	}

	if split != "" {
		for _, candidate := range selected.Splits {
			if candidate == split {
				return selected.Config, split, nil
			}
		}
		return "", "", fmt.Errorf("unknown split %q in config %q", split, selected.Config)
	}
	return selected.Config, defaultSplit(selected.Splits), nil
}

func defaultSplit(splits []string) string {
	for _, split := range splits {
		if split == "train" {
			return split
		}
	}
	for _, split := range splits {
		if strings.HasPrefix(split, "train") {
			return split
		}
	}
	if len(splits) > 0 {
		return splits[0]
	}
	return ""
}

type rowsResponse struct {
	Features []struct {
		Name string         `json:"name"`
		Type map[string]any `json:"type"`
	} `json:"features"`
	Rows []struct {
		RowIdx int64          `json:"row_idx"`
		Row    map[string]any `json:"row"`
	} `json:"rows"`
	NumRowsTotal int64 `json:"num_rows_total"`
	Partial      bool  `json:"partial"`
}

func (r *rowsResponse) schema() []dataset.Feature {
	schema := make([]dataset.Feature, 0, len(r.Features))
	for _, feature := range r.Features {
		schema = append(schema, dataset.Feature{
			Name:    feature.Name,
			Dtype:   DtypeLabel(feature.Type),
			RawType: feature.Type,
		})
	}
	return schema
}

// DtypeLabel returns the display type of a feature: its "dtype", else
// its "_type".
func DtypeLabel(featureType map[string]any) string {
	if dtype, ok := featureType["dtype"].(string); ok && dtype != "" {
		return dtype
	}
	if kind, ok := featureType["_type"].(string); ok {
		return kind
	}
	return ""
}

// get issues one API request and decodes its JSON body into v.
func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	target := c.endpoint.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	label := target.String()

	if limiter := c.options.Limiters.For(target.Host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return dataset.Network(label, "waiting for rate limiter", err)
		}
	}
	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, label, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", label, err)
	}
	c.decorate(request)
	request.Header.Set("Accept", "application/json")

	started := time.Now()
	response, err := c.options.HTTPClient.Do(request)
	if err != nil {
		return dataset.Network(label, "GET", err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return dataset.Network(label, "reading body", err)
	}
	c.logger.Debug("catalog request",
		"path", path,
		"status", response.StatusCode,
		"bytes", len(body),
		"duration", time.Since(started),
	)

	if err := classify(label, response, body); err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return dataset.Malformed(label, -1, "decoding response", "%v", err)
	}
	return nil
}

func (c *Client) decorate(request *http.Request) {
	if c.options.UserAgent != "" {
		request.Header.Set("User-Agent", c.options.UserAgent)
	}
	if c.options.Token != "" {
		request.Header.Set("Authorization", "Bearer "+c.options.Token)
	}
}

var (
	authTerms = []string{"authentication", "unauthorized", "gated", "private", "access to"}
	codeTerms = []string{"arbitrary code", "dataset script", "trust_remote_code"}
)

// classify maps an API response to an error, or nil for a successful
// response without an error body.
func classify(label string, response *http.Response, body []byte) error {
	var envelope struct {
		Error any `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	message, _ := envelope.Error.(string)
	lower := strings.ToLower(message)

	switch response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message == "" {
			message = response.Status
		}
		return dataset.AuthRequired(label, "%s", message)
	}
	if message != "" {
		switch {
		case containsAny(lower, authTerms):
			return dataset.AuthRequired(label, "%s", message)
		case containsAny(lower, codeTerms):
			return dataset.Unsupported(label, "%s", message)
		case response.StatusCode == http.StatusNotFound:
			return dataset.NotFound(label, "%s", message)
		}
		return dataset.Malformed(label, -1, "", "%s", message)
	}
	if response.StatusCode == http.StatusNotFound {
		return dataset.NotFound(label, "not found (%s)", response.Status)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return dataset.Network(label, "GET", fmt.Errorf("unexpected status %s: %s", response.Status,
			netutil.ErrorBody(bytes.NewReader(body))))
	}
	return nil
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
