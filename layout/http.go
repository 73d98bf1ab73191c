package layout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/poiesic/veridoc/core"
)

// HTTPParser posts documents to a layout service as multipart field "file".
type HTTPParser struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures an HTTPParser.
type Option func(*HTTPParser)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *HTTPParser) {
		p.logger = logger
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPParser) {
		p.client = client
	}
}

// NewHTTPParser creates a parser for the layout service at endpoint.
func NewHTTPParser(endpoint string, timeout time.Duration, opts ...Option) (*HTTPParser, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	p := &HTTPParser{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "layout")
	return p, nil
}

// Parse sends data to the layout service and decodes the returned blocks.
func (p *HTTPParser) Parse(ctx context.Context, data []byte) ([]core.Block, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling layout service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrServiceFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}

	blocks, err := DecodeBlocks(resp.Body, p.logger)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("parsed document", "bytes", len(data), "blocks", len(blocks), "elapsed", time.Since(start))
	return blocks, nil
}

// JSONParser treats the document bytes as block JSON produced earlier by a
// layout service.
type JSONParser struct {
	logger *slog.Logger
}

// NewJSONParser creates a JSONParser.
func NewJSONParser(logger *slog.Logger) *JSONParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONParser{logger: logger.With("component", "layout")}
}

// Parse decodes data as block JSON.
func (p *JSONParser) Parse(ctx context.Context, data []byte) ([]core.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DecodeBlocks(bytes.NewReader(data), p.logger)
}
