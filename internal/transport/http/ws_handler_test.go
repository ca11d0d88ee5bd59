package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/chain"
	"chainquiz-service/internal/domain"
	"chainquiz-service/internal/infra/memory"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.SessionService) {
	t.Helper()
	store := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewMapQuizStore(nil), time.Minute)
	service := app.NewSessionService(store, quizRepo, chain.Noop{}, app.Options{}, zerolog.Nop())
	wsHandler := NewWSHandler(service, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, service
}

func dial(t *testing.T, server *httptest.Server, address string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?address=" + address
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", address, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil skips intermediate room events until the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		if msg.Type == "error" {
			t.Fatalf("error event while waiting for %s: %s", want, msg.Payload)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
	t.Fatalf("never saw %s", want)
	return nil
}

func createTestQuiz(t *testing.T, service *app.SessionService) (string, domain.Quiz) {
	t.Helper()
	pin, quiz, err := service.CreateQuiz(context.Background(), domain.Quiz{
		Name:    "capitals",
		Creator: "0xCREATOR",
		Questions: []domain.Question{
			{Prompt: "Capital of France?", Options: []string{"Paris", "Lyon"}, Correct: 0},
			{Prompt: "Capital of Italy?", Options: []string{"Milan", "Rome"}, Correct: 1},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	return pin, quiz
}

func TestServeWSRequiresAddress(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without address, got %d", resp.StatusCode)
	}
}

func TestRoomLifecycleOverWebSocket(t *testing.T) {
	server, service := newTestServer(t)
	pin, _ := createTestQuiz(t, service)

	creator := dial(t, server, "0xCREATOR")
	sendMessage(t, creator, "quiz:create", map[string]string{"pin": pin, "creatorAddress": "0xCREATOR"})
	readUntil(t, creator, app.EventCreated)

	player := dial(t, server, "0xAAAA")
	sendMessage(t, player, "quiz:join", map[string]string{"pin": pin, "playerAddress": "0xAAAA"})

	// Both sides converge on the same full membership snapshot.
	for _, conn := range []*websocket.Conn{creator, player} {
		for {
			raw := readUntil(t, conn, app.EventPlayers)
			var players []string
			if err := json.Unmarshal(raw, &players); err != nil {
				t.Fatalf("players payload: %v", err)
			}
			if len(players) == 1 && players[0] == "0xAAAA" {
				break
			}
		}
	}

	sendMessage(t, creator, "quiz:start", map[string]string{"pin": pin})
	raw := readUntil(t, player, app.EventStarted)
	var started struct {
		RedirectURL   string `json:"redirectUrl"`
		QuestionIndex int    `json:"questionIndex"`
	}
	if err := json.Unmarshal(raw, &started); err != nil {
		t.Fatalf("started payload: %v", err)
	}
	if started.RedirectURL != "/live-quiz/"+pin || started.QuestionIndex != 0 {
		t.Fatalf("unexpected started payload %+v", started)
	}

	sendMessage(t, player, "quiz:answer", map[string]any{
		"pin":           pin,
		"questionIndex": 0,
		"answer":        0,
		"answerTimeMs":  750,
	})
	readUntil(t, player, "quiz:answer:accepted")

	sendMessage(t, creator, "quiz:end", map[string]string{"pin": pin})
	raw = readUntil(t, player, app.EventEnded)
	var ended struct {
		RedirectURL string              `json:"redirectUrl"`
		Winner      domain.WinnerRecord `json:"winner"`
	}
	if err := json.Unmarshal(raw, &ended); err != nil {
		t.Fatalf("ended payload: %v", err)
	}
	if ended.RedirectURL != "/leaderboard/"+pin {
		t.Fatalf("unexpected redirect %q", ended.RedirectURL)
	}
	if ended.Winner.Winner != "0xAAAA" || ended.Winner.Score != 1 {
		t.Fatalf("unexpected winner record %+v", ended.Winner)
	}
}

func TestAnswerRejectionsSurfaceAsErrors(t *testing.T) {
	server, service := newTestServer(t)
	pin, _ := createTestQuiz(t, service)

	creator := dial(t, server, "0xCREATOR")
	sendMessage(t, creator, "quiz:create", map[string]string{"pin": pin, "creatorAddress": "0xCREATOR"})
	readUntil(t, creator, app.EventCreated)

	player := dial(t, server, "0xAAAA")
	sendMessage(t, player, "quiz:join", map[string]string{"pin": pin, "playerAddress": "0xAAAA"})
	readUntil(t, player, app.EventPlayers)

	// Submitting before start is stale and must come back as an error event.
	sendMessage(t, player, "quiz:answer", map[string]any{
		"pin":           pin,
		"questionIndex": 0,
		"answer":        0,
		"answerTimeMs":  100,
	})
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = player.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if err := player.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == "error" {
			return
		}
		if msg.Type == "quiz:answer:accepted" {
			t.Fatalf("stale answer was accepted")
		}
	}
}

func TestSecondRoomOnSameConnectionRejected(t *testing.T) {
	server, service := newTestServer(t)
	pinOne, _ := createTestQuiz(t, service)
	pinTwo, _ := createTestQuiz(t, service)

	player := dial(t, server, "0xAAAA")
	sendMessage(t, player, "quiz:join", map[string]string{"pin": pinOne, "playerAddress": "0xAAAA"})
	readUntil(t, player, app.EventPlayers)

	sendMessage(t, player, "quiz:join", map[string]string{"pin": pinTwo, "playerAddress": "0xAAAA"})
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = player.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if err := player.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == "error" {
			break
		}
	}
}
