package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client hands session results to an on-chain relayer over HTTP. The quiz
// contract itself is an opaque collaborator: this client only posts the
// start roster and the final winner; it never inspects chain state.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type startRequest struct {
	QuizAddress string   `json:"quizAddress"`
	Players     []string `json:"players"`
}

type endRequest struct {
	QuizAddress string `json:"quizAddress"`
	Winner      string `json:"winner"`
	Score       int    `json:"score"`
}

func (c *Client) StartQuiz(ctx context.Context, quizAddress string, players []string) error {
	return c.post(ctx, "/quiz/start", startRequest{QuizAddress: quizAddress, Players: players})
}

func (c *Client) EndQuiz(ctx context.Context, quizAddress, winner string, score int) error {
	return c.post(ctx, "/quiz/end", endRequest{QuizAddress: quizAddress, Winner: winner, Score: score})
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal settlement payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("settlement request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("settlement %s: status %d: %s", endpoint, resp.StatusCode, raw)
	}
	c.log.Debug().Str("endpoint", endpoint).Msg("settlement call accepted")
	return nil
}

// Noop satisfies the settlement contract for tests and deployments without
// a relayer.
type Noop struct{}

func (Noop) StartQuiz(context.Context, string, []string) error { return nil }

func (Noop) EndQuiz(context.Context, string, string, int) error { return nil }
