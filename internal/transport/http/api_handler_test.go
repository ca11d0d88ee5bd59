package http

import (
	"bytes"
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
	"github.com/rs/zerolog"
)

func newAPIServer(t *testing.T) (*httptest.Server, *app.SessionService) {
	t.Helper()
	store := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewMapQuizStore(nil), time.Minute)
	service := app.NewSessionService(store, quizRepo, chain.Noop{}, app.Options{}, zerolog.Nop())

	mux := http.NewServeMux()
	NewAPIHandler(service, zerolog.Nop()).Register(mux)
	apiServer := httptest.NewServer(mux)
	t.Cleanup(apiServer.Close)
	return apiServer, service
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestCreateAndFetchQuiz(t *testing.T) {
	server, _ := newAPIServer(t)

	resp := postJSON(t, server.URL+"/api/quiz/create", map[string]any{
		"quizName":       "capitals",
		"creatorAddress": "0xCREATOR",
		"questions": []map[string]any{
			{"question": "Capital of France?", "answers": []string{"Paris", "Lyon"}, "correctAnswer": 0},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		Pin         string `json:"pin"`
		QuizAddress string `json:"quizAddress"`
	}
	decodeBody(t, resp, &created)
	if !app.IsPIN(created.Pin) || created.QuizAddress == "" {
		t.Fatalf("unexpected create response %+v", created)
	}

	// A player view has the answer key redacted.
	get, err := http.Get(server.URL + "/api/quiz/" + created.Pin + "?address=0xAAAA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer get.Body.Close()
	var quiz struct {
		Pin       string `json:"pin"`
		State     string `json:"state"`
		Questions []struct {
			CorrectAnswer int `json:"correctAnswer"`
		} `json:"questions"`
	}
	decodeBody(t, get, &quiz)
	if quiz.Pin != created.Pin || quiz.State != "created" {
		t.Fatalf("unexpected quiz response %+v", quiz)
	}
	if quiz.Questions[0].CorrectAnswer != domain.NoAnswer {
		t.Fatalf("answer key leaked to player view")
	}
}

func TestCreateQuizRejectsBadDefinitions(t *testing.T) {
	server, _ := newAPIServer(t)

	resp := postJSON(t, server.URL+"/api/quiz/create", map[string]any{
		"quizName":       "broken",
		"creatorAddress": "0xCREATOR",
		"questions": []map[string]any{
			{"question": "Only one option?", "answers": []string{"yes"}, "correctAnswer": 0},
		},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid quiz, got %d", resp.StatusCode)
	}
}

func TestRestGameFlow(t *testing.T) {
	server, service := newAPIServer(t)
	pin, quiz := createTestQuiz(t, service)

	if _, err := service.Join(context.Background(), pin, "0xCREATOR"); err != nil {
		t.Fatalf("creator attach: %v", err)
	}

	resp := postJSON(t, server.URL+"/api/quiz/"+pin+"/add-players", map[string]any{
		"players": []string{"0xAAAA", "0xBBBB"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var members struct {
		Players []string `json:"players"`
	}
	decodeBody(t, resp, &members)
	if len(members.Players) != 2 {
		t.Fatalf("expected 2 players, got %v", members.Players)
	}

	if _, err := service.Start(context.Background(), pin, "0xCREATOR"); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp = postJSON(t, server.URL+"/api/quiz/"+quiz.Address+"/submit-answers", map[string]any{
		"userAddress":   "0xAAAA",
		"questionIndex": 0,
		"answer":        0,
		"answerTimeMs":  420,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for submit, got %d", resp.StatusCode)
	}

	// A duplicate submission conflicts.
	resp = postJSON(t, server.URL+"/api/quiz/"+quiz.Address+"/submit-answers", map[string]any{
		"userAddress":   "0xAAAA",
		"questionIndex": 0,
		"answer":        1,
		"answerTimeMs":  500,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.StatusCode)
	}

	// Results before finish conflict too.
	get, err := http.Get(server.URL + "/api/quiz/" + quiz.Address + "/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before finish, got %d", get.StatusCode)
	}

	get, err = http.Get(server.URL + "/api/quiz/" + quiz.Address + "/end?address=0xCREATOR")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for end, got %d", get.StatusCode)
	}
	var record domain.WinnerRecord
	decodeBody(t, get, &record)
	if record.Winner != "0xAAAA" || record.Score != 1 {
		t.Fatalf("unexpected winner record %+v", record)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	server, _ := newAPIServer(t)

	resp, err := http.Get(server.URL + "/api/quiz/999999")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
