package elasticsearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"infra-alert/internal/config"

	es "github.com/elastic/go-elasticsearch/v8"
	osv2 "github.com/opensearch-project/opensearch-go/v2"
)

const (
	ProviderElasticsearch = "elasticsearch"
	ProviderOpenSearch    = "opensearch"
)

// Client hides the difference between the Elasticsearch and OpenSearch SDKs.
type Client struct {
	provider string
	es       *es.Client
	os       *osv2.Client
}

func NewClient(provider string, cfg config.ElasticsearchConfig) (*Client, error) {
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, fmt.Errorf("%s: no addresses configured", provider)
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.GetRequestTimeout(),
		ExpectContinueTimeout: 1 * time.Second,
	}

	if provider == "" {
		provider = ProviderElasticsearch
	}

	switch provider {
	case ProviderOpenSearch:
		osClient, err := osv2.NewClient(osv2.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		})
		if err != nil {
			return nil, fmt.Errorf("opensearch client: %w", err)
		}
		return &Client{provider: provider, os: osClient}, nil
	case ProviderElasticsearch:
		// 老版本 ES（<7.14）或代理剥离了响应头时需要跳过 product check
		if cfg.SkipProductCheck {
			_ = os.Setenv("ELASTIC_CLIENT_SKIP_PRODUCT_CHECK", "true")
		}
		esClient, err := es.NewClient(es.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			CloudID:   cfg.CloudID,
			APIKey:    cfg.APIKey,
			Transport: transport,
		})
		if err != nil {
			return nil, fmt.Errorf("elasticsearch client: %w", err)
		}
		return &Client{provider: provider, es: esClient}, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", provider)
	}
}

func (c *Client) Provider() string { return c.provider }

// Response is the subset of the SDK responses the sources need.
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	raw        string
	isError    bool
}

func (r *Response) IsError() bool  { return r.isError }
func (r *Response) String() string { return r.raw }

// Search runs a search with the given JSON body against index.
func (c *Client) Search(ctx context.Context, index string, body io.Reader) (*Response, error) {
	switch c.provider {
	case ProviderOpenSearch:
		res, err := c.os.Search(
			c.os.Search.WithContext(ctx),
			c.os.Search.WithIndex(index),
			c.os.Search.WithBody(body),
			c.os.Search.WithIgnoreUnavailable(true),
		)
		if err != nil {
			return nil, err
		}
		return &Response{Body: res.Body, StatusCode: res.StatusCode, raw: res.Status(), isError: res.IsError()}, nil
	default:
		res, err := c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(index),
			c.es.Search.WithBody(body),
			c.es.Search.WithIgnoreUnavailable(true),
		)
		if err != nil {
			return nil, err
		}
		return &Response{Body: res.Body, StatusCode: res.StatusCode, raw: res.Status(), isError: res.IsError()}, nil
	}
}

// Ping checks that the cluster answers the info endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var (
		status  int
		isError bool
		body    io.ReadCloser
	)
	switch c.provider {
	case ProviderOpenSearch:
		res, err := c.os.Info(c.os.Info.WithContext(ctx))
		if err != nil {
			return err
		}
		status, isError, body = res.StatusCode, res.IsError(), res.Body
	default:
		res, err := c.es.Info(c.es.Info.WithContext(ctx))
		if err != nil {
			return err
		}
		status, isError, body = res.StatusCode, res.IsError(), res.Body
	}
	defer body.Close()
	if isError {
		return fmt.Errorf("%s info: status=%d", c.provider, status)
	}
	return nil
}
