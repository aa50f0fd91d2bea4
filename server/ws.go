package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nano-chat-go/engine"
	"nano-chat-go/model"
	"nano-chat-go/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS layer for REST; websocket clients
	// include the local dev frontend, so accept any origin here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is one client JSON message on the chat socket.
// Sampling fields are pointers so "absent" and "zero" are distinct;
// absent fields fall back to the model's configured defaults.
type wsCommand struct {
	Command     string   `json:"command"`
	Message     string   `json:"message"`
	ChatID      uint     `json:"chat_id"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float64 `json:"top_p"`
	MaxLength   *int     `json:"max_length"`
	ImageURL    string   `json:"image_url"`
}

type tokenFrame struct {
	Token string `json:"token"`
}

type errorFrame struct {
	Error string `json:"error"`
}

type conversationPayload struct {
	ID                   uint   `json:"id"`
	Title                string `json:"title"`
	CreatedAt            string `json:"created_at"`
	LastMessageTimestamp string `json:"lastMessageTimestamp"`
}

type completeFrame struct {
	Status       string               `json:"status"`
	Conversation *conversationPayload `json:"conversation,omitempty"`
}

// turn is one in-flight generation on a connection
type turn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *turn) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, false)
}

func (s *Server) handleVisionSocket(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, true)
}

// serveSocket runs the command loop for one connection. At most one
// generation is active per connection; "stop" cancels it and closing
// the socket cancels it implicitly.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, vision bool) {
	modelID := r.PathValue("model")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := s.clients.Register(conn)
	defer s.clients.Unregister(client.ID)

	log := s.logger.With("client", client.ID, "model", modelID)
	log.Info("client connected", "vision", vision)

	if vision && !s.registry.IsVision(modelID) {
		client.Send(errorFrame{Error: fmt.Sprintf("model %s does not support vision", modelID)})
		return
	}

	mdl, err := s.registry.Get(modelID)
	if err != nil {
		client.Send(errorFrame{Error: fmt.Sprintf("failed to load model: %v", err)})
		return
	}

	user, err := s.store.GetOrCreateDefaultUser()
	if err != nil {
		client.Send(errorFrame{Error: "internal storage error"})
		log.Error("default user lookup failed", "error", err)
		return
	}

	// The session lives as long as the connection so its prompt cache
	// carries tokenized history across turns.
	session := engine.NewSession(s.engineCfg, mdl.Runner, mdl.Tokenizer)

	var active *turn
	defer func() {
		if active != nil {
			active.cancel()
			<-active.done
		}
		log.Info("client disconnected")
	}()

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", "error", err)
			}
			return
		}

		switch cmd.Command {
		case "generate":
			if active != nil && !active.finished() {
				client.Send(errorFrame{Error: "generation already in progress"})
				continue
			}
			t, err := s.startTurn(client, session, mdl, user, cmd, vision)
			if err != nil {
				client.Send(errorFrame{Error: err.Error()})
				continue
			}
			active = t
		case "stop":
			if active != nil {
				active.cancel()
				log.Info("generation stop requested")
			}
		default:
			client.Send(errorFrame{Error: fmt.Sprintf("unknown command: %s", cmd.Command)})
		}
	}
}

// startTurn resolves the conversation synchronously so missing-chat
// errors surface before any token is streamed, then runs the
// generation in the background.
func (s *Server) startTurn(client *Client, session *engine.Session, mdl *model.Model, user *store.User, cmd wsCommand, vision bool) (*turn, error) {
	if cmd.Message == "" {
		return nil, errors.New("message must not be empty")
	}
	if vision && cmd.ImageURL == "" {
		return nil, errors.New("image_url is required for vision chat")
	}

	var (
		conv *store.Conversation
		err  error
	)
	if cmd.ChatID != 0 {
		conv, err = s.store.GetConversation(cmd.ChatID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("conversation %d not found", cmd.ChatID)
			}
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	} else if vision {
		conv, err = s.store.CreateTitledConversation(user.ID, "Vision Chat")
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	} else {
		conv, err = s.store.CreateConversation(user.ID, cmd.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	var img *engine.Image
	if vision {
		img, err = s.loadUploadedImage(cmd.ImageURL)
		if err != nil {
			return nil, err
		}
	}

	// Persist the user message before the turn is queued, so a stop at
	// any point leaves the same stored state: user message kept,
	// assistant text only on a finished turn.
	if _, err := s.store.CreateImageMessage(conv.ID, "user", cmd.Message, cmd.ImageURL); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &turn{cancel: cancel, done: make(chan struct{})}
	go s.runTurn(ctx, t, client, session, mdl, conv, cmd, img)
	return t, nil
}

func (s *Server) runTurn(ctx context.Context, t *turn, client *Client, session *engine.Session, mdl *model.Model, conv *store.Conversation, cmd wsCommand, img *engine.Image) {
	defer close(t.done)
	defer t.cancel()

	log := s.logger.With("client", client.ID, "model", mdl.ID, "conversation", conv.ID)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		// Stopped or disconnected while queued. The turn still ends
		// with a complete frame so the client can reconcile; the user
		// message stays, same as a mid-stream stop.
		log.Info("generation cancelled before start")
		s.sendComplete(client, conv.ID, log)
		return
	}
	defer s.slots.Release(1)

	history, err := s.store.ListMessages(conv.ID)
	if err != nil {
		client.Send(errorFrame{Error: "failed to load history"})
		log.Error("history load failed", "error", err)
		return
	}
	messages := make([]engine.ChatMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, engine.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = engine.MergeConsecutiveRoles(messages)

	promptTokens, err := session.EncodeHistory(messages)
	if err != nil {
		client.Send(errorFrame{Error: "failed to encode prompt"})
		log.Error("prompt encode failed", "error", err)
		return
	}

	params := s.turnParams(mdl, cmd)

	start := time.Now()
	emit := func(tok engine.Token) error {
		return client.Send(tokenFrame{Token: tok.Text})
	}

	var result *engine.Result
	if img != nil {
		result, err = session.RunWithImage(ctx, promptTokens, img, params, emit)
	} else {
		result, err = session.Run(ctx, promptTokens, params, emit)
	}
	if err != nil {
		if errors.Is(err, engine.ErrPromptTooLong) {
			client.Send(errorFrame{Error: "conversation is too long for this model"})
		} else {
			client.Send(errorFrame{Error: fmt.Sprintf("generation failed: %v", err)})
		}
		log.Error("generation failed", "error", err)
		return
	}

	// A stopped turn keeps the user message but drops the partial
	// assistant text.
	if result.FinishReason != engine.FinishCancelled && result.Text != "" {
		if _, err := s.store.CreateMessage(conv.ID, "assistant", result.Text); err != nil {
			client.Send(errorFrame{Error: "failed to save response"})
			log.Error("assistant message persist failed", "error", err)
			return
		}
	}

	log.Info("generation finished",
		"finish_reason", result.FinishReason,
		"prompt_tokens", result.PromptTokens,
		"eval_count", result.EvalCount,
		"duration", time.Since(start))

	s.sendComplete(client, conv.ID, log)
}

// sendComplete terminates a turn on the wire. The frame is the client's
// signal to leave the generating state, so a failed send is logged even
// though the connection is likely already gone.
func (s *Server) sendComplete(client *Client, conversationID uint, log *slog.Logger) {
	frame := completeFrame{
		Status:       "complete",
		Conversation: s.conversationPayload(conversationID),
	}
	if err := client.Send(frame); err != nil {
		log.Warn("complete frame send failed", "error", err)
	}
}

// turnParams layers the client's overrides over the model defaults
// and clamps everything to safe ranges.
func (s *Server) turnParams(mdl *model.Model, cmd wsCommand) *engine.SamplingParams {
	temperature := mdl.Defaults.Temperature
	topK := mdl.Defaults.TopK
	topP := mdl.Defaults.TopP
	maxTokens := mdl.Defaults.MaxTokens

	if cmd.Temperature != nil {
		temperature = *cmd.Temperature
	}
	if cmd.TopK != nil {
		topK = *cmd.TopK
	}
	if cmd.TopP != nil {
		topP = *cmd.TopP
	}
	if cmd.MaxLength != nil {
		maxTokens = *cmd.MaxLength
	}
	if maxTokens <= 0 {
		maxTokens = s.engineCfg.DefaultMaxTokens
	}
	return engine.ClampSamplingParams(temperature, topP, topK, maxTokens)
}

func (s *Server) conversationPayload(id uint) *conversationPayload {
	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.logger.Error("conversation reload failed", "conversation", id, "error", err)
		return nil
	}
	created := conv.CreatedAt.UTC().Format(time.RFC3339)
	return &conversationPayload{
		ID:                   conv.ID,
		Title:                conv.Title,
		CreatedAt:            created,
		LastMessageTimestamp: created,
	}
}
