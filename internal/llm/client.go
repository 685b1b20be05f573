package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUpstream clasifica fallas de red, timeout o status no exitoso del
// proveedor. El caller no recibe indicación de éxito parcial distinta de
// "el stream terminó antes": los tokens ya entregados son la respuesta parcial.
var ErrUpstream = errors.New("llm upstream failure")

// Turn es un par rol/contenido ya aplanado para el proveedor.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenStream es una secuencia finita y de un solo uso de deltas de texto.
// Recv devuelve io.EOF en el fin normal del stream; una vez agotado o fallado
// no puede reiniciarse, un retry requiere una nueva llamada.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// StreamingClient abre un request de streaming por llamada contra el proveedor.
type StreamingClient interface {
	StreamChat(ctx context.Context, model Model, turns []Turn) (TokenStream, error)
}

// HTTPClient implementa StreamingClient contra una API chat-completions.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(baseURL, apiKey string, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
}

type streamRequest struct {
	Model    Model  `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []Turn `json:"messages"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *HTTPClient) StreamChat(ctx context.Context, model Model, turns []Turn) (TokenStream, error) {
	bodyBytes, err := json.Marshal(streamRequest{
		Model:    model,
		Stream:   true,
		Messages: turns,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if c.logger != nil {
			c.logger.Warn("llm error status",
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", respBody),
			)
		}
		return nil, fmt.Errorf("%w: status=%d", ErrUpstream, resp.StatusCode)
	}

	return &sseTokenStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		logger:  c.logger,
	}, nil
}

// sseTokenStream lee frames "data: ..." y extrae el delta incremental de cada
// uno. Frames malformados se saltan: salida parcial del proveedor no mata un
// stream por lo demás sano.
type sseTokenStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *zap.Logger
	done    bool
}

func (s *sseTokenStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[len("data: "):])
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping malformed stream frame", zap.Error(err))
			}
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return "", io.EOF
}

func (s *sseTokenStream) Close() error {
	s.done = true
	return s.body.Close()
}
