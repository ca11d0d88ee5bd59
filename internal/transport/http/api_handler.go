package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
	"github.com/rs/zerolog"
)

var (
	errInvalidPayload  = errors.New("invalid payload")
	errUnsupportedType = errors.New("unsupported message type")
	errAlreadyInRoom   = errors.New("connection already joined a room")
)

// APIHandler exposes the REST surface the quiz front end consumes.
type APIHandler struct {
	service *app.SessionService
	log     zerolog.Logger
}

func NewAPIHandler(service *app.SessionService, log zerolog.Logger) *APIHandler {
	return &APIHandler{service: service, log: log}
}

// Register mounts the quiz routes.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quiz/create", h.createQuiz)
	mux.HandleFunc("GET /api/quiz/{ref}", h.getQuiz)
	mux.HandleFunc("POST /api/quiz/{pin}/add-players", h.addPlayers)
	mux.HandleFunc("POST /api/quiz/{quizAddress}/submit-answers", h.submitAnswers)
	mux.HandleFunc("GET /api/quiz/{quizAddress}/end", h.endQuiz)
	mux.HandleFunc("GET /api/quiz/{quizAddress}/results", h.results)
}

// Wire DTOs match the original front end's shapes.
type questionDTO struct {
	Question      string   `json:"question"`
	Answers       []string `json:"answers"`
	CorrectAnswer int      `json:"correctAnswer"`
}

type createQuizRequest struct {
	QuizAddress    string        `json:"quizAddress"`
	QuizName       string        `json:"quizName"`
	CreatorAddress string        `json:"creatorAddress"`
	Questions      []questionDTO `json:"questions"`
}

type createQuizResponse struct {
	Pin         string `json:"pin"`
	QuizAddress string `json:"quizAddress"`
}

type quizResponse struct {
	Pin            string        `json:"pin"`
	QuizAddress    string        `json:"quizAddress"`
	QuizName       string        `json:"quizName"`
	CreatorAddress string        `json:"creatorAddress"`
	State          string        `json:"state"`
	Players        []string      `json:"players"`
	Questions      []questionDTO `json:"questions"`
}

type addPlayersRequest struct {
	Players []string `json:"players"`
}

type playersResponse struct {
	Players []string `json:"players"`
}

type submitAnswerRequest struct {
	UserAddress   string `json:"userAddress"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        int    `json:"answer"`
	AnswerTimeMs  int64  `json:"answerTimeMs"`
}

func (h *APIHandler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}

	quiz := domain.Quiz{
		Address:   req.QuizAddress,
		Name:      req.QuizName,
		Creator:   req.CreatorAddress,
		Questions: questionsFromDTO(req.Questions),
	}
	pin, stored, err := h.service.CreateQuiz(r.Context(), quiz)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createQuizResponse{Pin: pin, QuizAddress: stored.Address})
}

func (h *APIHandler) getQuiz(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	viewer := r.URL.Query().Get("address")

	quiz, snapshot, err := h.service.GetQuiz(r.Context(), ref, viewer)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizResponse{
		Pin:            snapshot.PIN,
		QuizAddress:    quiz.Address,
		QuizName:       quiz.Name,
		CreatorAddress: quiz.Creator,
		State:          snapshot.State,
		Players:        snapshot.Players,
		Questions:      questionsToDTO(quiz.Questions),
	})
}

func (h *APIHandler) addPlayers(w http.ResponseWriter, r *http.Request) {
	pin := r.PathValue("pin")
	var req addPlayersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	players, err := h.service.AddPlayers(r.Context(), pin, req.Players)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playersResponse{Players: players})
}

func (h *APIHandler) submitAnswers(w http.ResponseWriter, r *http.Request) {
	quizAddress := r.PathValue("quizAddress")
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidPayload)
		return
	}
	err := h.service.SubmitByQuiz(r.Context(), quizAddress, req.UserAddress, req.QuestionIndex, req.Answer, req.AnswerTimeMs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (h *APIHandler) endQuiz(w http.ResponseWriter, r *http.Request) {
	quizAddress := r.PathValue("quizAddress")
	actor := r.URL.Query().Get("address")

	record, err := h.service.EndByQuiz(r.Context(), quizAddress, actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *APIHandler) results(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Results(r.Context(), r.PathValue("quizAddress"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrStaleSubmission),
		errors.Is(err, domain.ErrNotResolved):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrPinExhausted), errors.Is(err, domain.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.log.Debug().Err(err).Msg("request rejected")
		writeError(w, http.StatusBadRequest, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func questionsFromDTO(dtos []questionDTO) []domain.Question {
	questions := make([]domain.Question, len(dtos))
	for i, dto := range dtos {
		questions[i] = domain.Question{
			Prompt:  dto.Question,
			Options: dto.Answers,
			Correct: dto.CorrectAnswer,
		}
	}
	return questions
}

func questionsToDTO(questions []domain.Question) []questionDTO {
	dtos := make([]questionDTO, len(questions))
	for i, question := range questions {
		dtos[i] = questionDTO{
			Question:      question.Prompt,
			Answers:       question.Options,
			CorrectAnswer: question.Correct,
		}
	}
	return dtos
}
