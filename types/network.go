package types

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/prometheus/common/config"
)

// Compression is the content encoding applied to payloads before sending.
type Compression string

const (
	CompressionNone   = Compression("")
	CompressionGzip   = Compression("gzip")
	CompressionSnappy = Compression("snappy")
)

type NetworkClient interface {
	// Send delivers a single batch, retrying as configured.
	Send(ctx context.Context, b Batch) error
	// UpdateConfig swaps the connection settings, it returns once the config is applied or an error occurs.
	UpdateConfig(ctx context.Context, cfg ConnectionConfig) (bool, error)
}

// ConnectionConfig holds configuration details for network connections.
// It includes various options such as authentication, timeouts, retry policies,
// and TLS settings.
type ConnectionConfig struct {
	// URL is the ingest endpoint the payloads are posted to.
	URL string
	// MetricDefinitionURL is the base URL custom metric definitions are PUT to as <MetricDefinitionURL>/<id>.
	// Registration is skipped when it is empty.
	MetricDefinitionURL string
	// MetricCacheSize bounds how many registered metric ids are remembered, zero uses a default.
	MetricCacheSize uint32
	// APIToken is sent as "Authorization: Api-Token <token>".
	APIToken string
	// BasicAuth holds the username and password for basic HTTP authentication, it is used when APIToken is empty.
	BasicAuth *BasicAuth
	// UserAgent is the User-Agent header sent to the backend.
	UserAgent string
	// Timeout specifies the duration for which the connection will wait for a response before timing out.
	Timeout time.Duration
	// RetryBackoff is the duration between retries when a network request fails.
	RetryBackoff time.Duration
	// MaxRetryAttempts specifies the maximum number of times a request will be retried
	// if it fails. If this is set to 0, no retries are attempted.
	MaxRetryAttempts uint
	// MaxBatchBytes is the byte ceiling for a single payload.
	MaxBatchBytes int
	// Compression is applied to each payload, it does not count against MaxBatchBytes.
	Compression Compression
	// Headers are added to every request.
	Headers map[string]string
	// ProxyURL is the URL of the proxy to use for requests.
	ProxyURL string
	// TLSCert is the PEM-encoded certificate string for TLS client authentication
	TLSCert string
	// TLSKey is the PEM-encoded private key string for TLS client authentication
	TLSKey string
	// TLSCACert is the PEM-encoded CA certificate string for server verification
	TLSCACert string
	// InsecureSkipVerify controls whether the client verifies the server's certificate chain and host name
	InsecureSkipVerify bool
}

type BasicAuth struct {
	Username string
	Password string
}

func (cc ConnectionConfig) Equals(bb ConnectionConfig) bool {
	return reflect.DeepEqual(cc, bb)
}

// ToPrometheusConfig converts the connection settings into a prometheus/common http client config.
func (cc ConnectionConfig) ToPrometheusConfig() (config.HTTPClientConfig, error) {
	cfg := config.DefaultHTTPClientConfig
	switch {
	case cc.APIToken != "":
		cfg.Authorization = &config.Authorization{
			Type:        "Api-Token",
			Credentials: config.Secret(cc.APIToken),
		}
	case cc.BasicAuth != nil:
		cfg.BasicAuth = &config.BasicAuth{
			Username: cc.BasicAuth.Username,
			Password: config.Secret(cc.BasicAuth.Password),
		}
	}
	if cc.ProxyURL != "" {
		u, err := url.Parse(cc.ProxyURL)
		if err != nil {
			return cfg, fmt.Errorf("invalid proxy URL: %w", err)
		}
		cfg.ProxyURL = config.URL{URL: u}
	}
	cfg.TLSConfig = config.TLSConfig{
		CA:                 cc.TLSCACert,
		Cert:               cc.TLSCert,
		Key:                config.Secret(cc.TLSKey),
		InsecureSkipVerify: cc.InsecureSkipVerify,
	}
	if len(cc.Headers) > 0 {
		cfg.HTTPHeaders = &config.Headers{Headers: make(map[string]config.Header, len(cc.Headers))}
		for k, v := range cc.Headers {
			cfg.HTTPHeaders.Headers[k] = config.Header{Values: []string{v}}
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
