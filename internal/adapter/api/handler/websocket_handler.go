package handler

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/internal/infrastructure/lifecycle"
	ws "lovelink/internal/infrastructure/websocket"
	"lovelink/internal/usecase"
	"lovelink/pkg/errors"
	"lovelink/pkg/logger"
	"lovelink/pkg/response"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves live subscriptions. Each connection publishes the user's
// presence, driven by its app_state frames, for as long as it is open.
type WebSocketHandler struct {
	baseCtx         context.Context
	wsManager       *ws.Manager
	chatUseCase     *usecase.ChatUseCase
	presenceUseCase *usecase.PresenceUseCase
	stoppers        *usecase.StopperRegistry
}

func NewWebSocketHandler(
	baseCtx context.Context,
	wsManager *ws.Manager,
	chatUseCase *usecase.ChatUseCase,
	presenceUseCase *usecase.PresenceUseCase,
	stoppers *usecase.StopperRegistry,
) *WebSocketHandler {
	return &WebSocketHandler{
		baseCtx:         baseCtx,
		wsManager:       wsManager,
		chatUseCase:     chatUseCase,
		presenceUseCase: presenceUseCase,
		stoppers:        stoppers,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("HandleWebSocket: upgrade failed for user %d: %v", userID, err)
		return nil
	}

	client := ws.NewClient(usecase.UserKey(userID), conn)
	h.wsManager.Register(client)
	defer h.wsManager.Unregister(client)

	s := newWSSession(h.baseCtx, userID, client, h.chatUseCase, h.presenceUseCase)
	defer s.close()

	// An older connection's tracker must finish its offline write before this one goes online.
	if h.stoppers.StopPresenceIfAny(userID) {
		logger.Debug("HandleWebSocket: replaced presence tracking of user %d", userID)
	}
	stop := h.presenceUseCase.StartTracking(s.ctx, userID, s.lifecycle)
	release := h.stoppers.SetPresenceStopper(userID, stop)
	defer release()

	router := s.router()
	if err := client.Run(s.ctx, func(raw []byte) {
		router.HandleClientMessage(client, raw)
	}); err != nil {
		logger.Debug("HandleWebSocket: connection of user %d ended: %v", userID, err)
	}
	return nil
}

// wsSession owns the subscriptions opened over one connection.
type wsSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	userID     int64
	client     *ws.Client
	chatUC     *usecase.ChatUseCase
	presenceUC *usecase.PresenceUseCase
	lifecycle  *lifecycle.Broadcaster
	validate   *validator.Validate

	mu      sync.Mutex
	nextSub int
	subs    map[string]repository.Unsubscribe
	closed  bool
}

func newWSSession(parent context.Context, userID int64, client *ws.Client, chatUC *usecase.ChatUseCase, presenceUC *usecase.PresenceUseCase) *wsSession {
	ctx, cancel := context.WithCancel(parent)
	return &wsSession{
		ctx:        ctx,
		cancel:     cancel,
		userID:     userID,
		client:     client,
		chatUC:     chatUC,
		presenceUC: presenceUC,
		lifecycle:  lifecycle.NewBroadcaster(),
		validate:   validator.New(),
		subs:       make(map[string]repository.Unsubscribe),
	}
}

type subscribeLatestRequest struct {
	ChatID   string `json:"chat_id" validate:"required"`
	PageSize int    `json:"page_size" validate:"gte=0"`
}

type subscribeMetaRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
}

type subscribeInboxRequest struct {
	Limit int `json:"limit" validate:"gte=0"`
}

type subscribePresenceRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

type appStateRequest struct {
	State string `json:"state" validate:"required,oneof=active background inactive"`
}

type latestFrame struct {
	ChatID   string            `json:"chat_id"`
	Messages []*entity.Message `json:"messages"`
	Cursor   *entity.Cursor    `json:"cursor"`
}

type metaFrame struct {
	ChatID       string               `json:"chat_id"`
	Conversation *entity.Conversation `json:"conversation"`
}

type inboxFrame struct {
	Conversations []*entity.Conversation `json:"conversations"`
}

type presenceFrame struct {
	Statuses map[string]bool `json:"statuses"`
}

type subscribedFrame struct {
	SubID string `json:"sub_id"`
}

func (s *wsSession) router() *ws.Router {
	r := ws.NewRouter()
	r.Handle(ws.MessageTypeSubscribeLatest, s.subscribeLatest)
	r.Handle(ws.MessageTypeSubscribeMeta, s.subscribeMeta)
	r.Handle(ws.MessageTypeSubscribeInbox, s.subscribeInbox)
	r.Handle(ws.MessageTypeSubscribePresence, s.subscribePresence)
	r.Handle(ws.MessageTypeUnsubscribe, s.unsubscribe)
	r.Handle(ws.MessageTypeAppState, s.appState)
	return r
}

func (s *wsSession) decode(msg ws.WSMessage, v interface{}) error {
	if err := msg.Decode(v); err != nil {
		return err
	}
	if err := s.validate.Struct(v); err != nil {
		return errors.BadRequest("Invalid "+msg.Type+" frame: "+err.Error(), err)
	}
	return nil
}

func (s *wsSession) authorizeChat(chatID string) error {
	if _, _, err := usecase.ParseChatID(chatID); err != nil {
		return err
	}
	if !usecase.ChatHasMember(chatID, s.userID) {
		return errors.Forbidden("You are not a member of this chat", nil)
	}
	return nil
}

// open reserves a subscription id and acknowledges it before any data frame for it.
func (s *wsSession) open() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.BadRequest("Connection is closing", nil)
	}
	s.nextSub++
	subID := "s" + strconv.Itoa(s.nextSub)
	s.subs[subID] = func() {}
	s.client.SendFrame(ws.MessageTypeSubscribed, subID, subscribedFrame{SubID: subID})
	return subID, nil
}

func (s *wsSession) attach(subID string, unsub repository.Unsubscribe) {
	s.mu.Lock()
	if _, ok := s.subs[subID]; ok && !s.closed {
		s.subs[subID] = unsub
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	unsub()
}

func (s *wsSession) subscribeLatest(client *ws.Client, msg ws.WSMessage) error {
	var req subscribeLatestRequest
	if err := s.decode(msg, &req); err != nil {
		return err
	}
	if err := s.authorizeChat(req.ChatID); err != nil {
		return err
	}

	subID, err := s.open()
	if err != nil {
		return err
	}
	s.attach(subID, s.chatUC.ListenLatest(s.ctx, req.ChatID, req.PageSize, func(messages []*entity.Message, cursor *entity.Cursor) {
		client.SendFrame(ws.MessageTypeLatest, subID, latestFrame{ChatID: req.ChatID, Messages: messages, Cursor: cursor})
	}))
	return nil
}

func (s *wsSession) subscribeMeta(client *ws.Client, msg ws.WSMessage) error {
	var req subscribeMetaRequest
	if err := s.decode(msg, &req); err != nil {
		return err
	}
	if err := s.authorizeChat(req.ChatID); err != nil {
		return err
	}

	subID, err := s.open()
	if err != nil {
		return err
	}
	s.attach(subID, s.chatUC.ListenConversationMeta(s.ctx, req.ChatID, func(conv *entity.Conversation) {
		client.SendFrame(ws.MessageTypeMeta, subID, metaFrame{ChatID: req.ChatID, Conversation: conv})
	}))
	return nil
}

func (s *wsSession) subscribeInbox(client *ws.Client, msg ws.WSMessage) error {
	var req subscribeInboxRequest
	if len(msg.Data) > 0 {
		if err := s.decode(msg, &req); err != nil {
			return err
		}
	}

	subID, err := s.open()
	if err != nil {
		return err
	}
	s.attach(subID, s.chatUC.ListenConversations(s.ctx, s.userID, req.Limit, func(convs []*entity.Conversation) {
		client.SendFrame(ws.MessageTypeInbox, subID, inboxFrame{Conversations: convs})
	}))
	return nil
}

func (s *wsSession) subscribePresence(client *ws.Client, msg ws.WSMessage) error {
	var req subscribePresenceRequest
	if err := s.decode(msg, &req); err != nil {
		return err
	}

	subID, err := s.open()
	if err != nil {
		return err
	}
	s.attach(subID, s.presenceUC.ListenPresenceForUsers(s.ctx, req.UserIDs, func(statuses map[string]bool) {
		client.SendFrame(ws.MessageTypePresence, subID, presenceFrame{Statuses: statuses})
	}))
	return nil
}

func (s *wsSession) unsubscribe(client *ws.Client, msg ws.WSMessage) error {
	s.mu.Lock()
	unsub, ok := s.subs[msg.SubID]
	delete(s.subs, msg.SubID)
	s.mu.Unlock()

	if !ok {
		return errors.NotFound("Subscription", nil)
	}
	unsub()
	client.SendFrame(ws.MessageTypeUnsubscribed, msg.SubID, nil)
	return nil
}

func (s *wsSession) appState(client *ws.Client, msg ws.WSMessage) error {
	var req appStateRequest
	if err := s.decode(msg, &req); err != nil {
		return err
	}
	state, _ := lifecycle.ParseState(req.State)
	s.lifecycle.Publish(state)
	return nil
}

// close ends every subscription of the connection.
func (s *wsSession) close() {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]repository.Unsubscribe)
	s.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	s.cancel()
}
