package http

import (
	"encoding/json"
	"net/http"

	"chainquiz-service/internal/app"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSHandler speaks the room protocol: one websocket per participant, one
// room per connection, full-snapshot broadcasts from the session.
type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *app.SessionService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createPayload struct {
	Pin            string `json:"pin"`
	CreatorAddress string `json:"creatorAddress"`
}

type joinPayload struct {
	Pin           string `json:"pin"`
	PlayerAddress string `json:"playerAddress"`
}

type startPayload struct {
	Pin string `json:"pin"`
}

type endPayload struct {
	QuizAddress string `json:"quizAddress"`
	Pin         string `json:"pin"`
}

type answerPayload struct {
	Pin           string `json:"pin"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        int    `json:"answer"`
	AnswerTimeMs  int64  `json:"answerTimeMs"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorEvent(err error) app.RoomEvent {
	return app.RoomEvent{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades the connection and wires it into the session use cases.
// The wallet address identifies the participant for the whole connection;
// a read failure reports a disconnect, not a leave, so the grace period in
// the session decides whether membership survives.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.New().String()[:8]
	log := h.log.With().Str("conn", connID).Str("address", address).Logger()

	send := make(chan app.RoomEvent, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	var updatesDone chan struct{}
	var cancelSub func()
	joinedPIN := ""

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	attach := func(pin string) error {
		if joinedPIN == pin {
			return nil
		}
		if joinedPIN != "" {
			return errAlreadyInRoom
		}
		updates, cancel, err := h.service.Subscribe(pin)
		if err != nil {
			return err
		}
		joinedPIN = pin
		cancelSub = cancel
		updatesDone = make(chan struct{})
		go func(updates <-chan app.RoomEvent, done chan struct{}) {
			defer close(done)
			for {
				select {
				case update, ok := <-updates:
					if !ok {
						return
					}
					select {
					case send <- update:
					case <-closeSignals:
						return
					}
				case <-closeSignals:
					return
				}
			}
		}(updates, updatesDone)
		return nil
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "quiz:create":
			var payload createPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if _, err := h.service.Join(r.Context(), payload.Pin, address); err != nil {
				send <- errorEvent(err)
				continue
			}
			if err := attach(payload.Pin); err != nil {
				send <- errorEvent(err)
				continue
			}
			send <- app.RoomEvent{Type: app.EventCreated, Payload: map[string]string{"pin": payload.Pin}}

		case "quiz:join":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if _, err := h.service.Join(r.Context(), payload.Pin, address); err != nil {
				send <- errorEvent(err)
				continue
			}
			if err := attach(payload.Pin); err != nil {
				send <- errorEvent(err)
				continue
			}

		case "quiz:start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if _, err := h.service.Start(r.Context(), payload.Pin, address); err != nil {
				send <- errorEvent(err)
			}

		case "quiz:answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if err := h.service.Submit(r.Context(), payload.Pin, address, payload.QuestionIndex, payload.Answer, payload.AnswerTimeMs); err != nil {
				send <- errorEvent(err)
				continue
			}
			send <- app.RoomEvent{Type: "quiz:answer:accepted", Payload: map[string]int{"questionIndex": payload.QuestionIndex}}

		case "quiz:end":
			var payload endPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			var err error
			if payload.Pin != "" {
				_, err = h.service.End(r.Context(), payload.Pin, address)
			} else {
				_, err = h.service.EndByQuiz(r.Context(), payload.QuizAddress, address)
			}
			if err != nil {
				send <- errorEvent(err)
			}

		default:
			send <- errorEvent(errUnsupportedType)
		}
	}

	if joinedPIN != "" {
		h.service.Disconnect(joinedPIN, address)
	}
	close(closeSignals)
	if updatesDone != nil {
		<-updatesDone
	}
	if cancelSub != nil {
		cancelSub()
	}
	close(send)
	<-writerDone
}
