package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovelink/internal/adapter/api"
	"lovelink/internal/adapter/api/handler"
	"lovelink/internal/adapter/api/middleware"
	"lovelink/internal/adapter/repository"
	"lovelink/internal/domain/entity"
	"lovelink/internal/infrastructure/credential"
	"lovelink/internal/infrastructure/firebase"
	"lovelink/internal/infrastructure/memstore"
	"lovelink/internal/infrastructure/ratelimit"
	ws "lovelink/internal/infrastructure/websocket"
	"lovelink/internal/usecase"
)

// 1x1 PNG.
const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type memImageStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func (s *memImageStore) PutChatImage(ctx context.Context, userID, contentType, extension string, file io.Reader) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := fmt.Sprintf("/chat-images/%s/%d.%s", userID, len(s.objects), extension)
	s.objects[path] = contentType + ":" + string(data)
	return path, nil
}

type testAPI struct {
	e        *echo.Echo
	store    *memstore.Store
	presence *usecase.PresenceUseCase
	stoppers *usecase.StopperRegistry
	images   *memImageStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memstore.New()
	chatUC := usecase.NewChatUseCase(repository.NewMemoryConversationRepository(store), 30, 100)
	presenceUC := usecase.NewPresenceUseCase(repository.NewMemoryPresenceRepository(store), 10, 2*time.Second)
	stoppers := usecase.NewStopperRegistry()
	images := &memImageStore{objects: make(map[string]string)}

	ctx, cancel := context.WithCancel(context.Background())
	handler.Setup(handler.Deps{
		BaseCtx:         ctx,
		StoreDriver:     "memory",
		ChatUseCase:     chatUC,
		PresenceUseCase: presenceUC,
		Stoppers:        stoppers,
		WSManager:       ws.NewManager(),
		ImageStore:      images,
		DefaultPageSize: 30,
		MaxPageSize:     100,
		UploadMaxBytes:  1 << 20,
	})

	e := echo.New()
	e.Validator = api.NewValidator()
	Setup(e, middleware.NewAuthMiddleware(firebase.DevVerifier{}), ratelimit.NewRateLimiter(nil))
	SetupDevRouter(e, "development", "memory")

	t.Cleanup(func() {
		cancel()
		stoppers.StopAll()
	})

	return &testAPI{e: e, store: store, presence: presenceUC, stoppers: stoppers, images: images}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *testAPI) request(t *testing.T, method, path string, uid int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if uid != 0 {
		req.Header.Set("Authorization", "Bearer "+firebase.DevToken(usecase.UserKey(uid)))
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"memory"`)
}

func TestAuthentication(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/v1/chats", 0, map[string]interface{}{"peer_id": 4})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, header := range []string{"Token dev:1", "Bearer nope", "Bearer dev:alice"} {
		req := httptest.NewRequest(http.MethodPut, "/v1/chats/1_4/read", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		a.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestCreateChat(t *testing.T) {
	a := newTestAPI(t)

	var created struct {
		ChatID string `json:"chat_id"`
	}
	rec := a.request(t, http.MethodPost, "/v1/chats", 4, map[string]interface{}{"peer_id": 1, "seed_message": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &created)
	assert.Equal(t, "1_4", created.ChatID)

	rec = a.request(t, http.MethodPost, "/v1/chats", 4, map[string]interface{}{"peer_id": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.request(t, http.MethodPost, "/v1/chats", 4, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec, nil).Error.Code)
}

func TestSendAndPageMessages(t *testing.T) {
	a := newTestAPI(t)

	for i := 0; i < 3; i++ {
		rec := a.request(t, http.MethodPost, "/v1/messages", 1, map[string]interface{}{"recipient_id": 4, "text": fmt.Sprintf("m%d", i)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var receipt usecase.SendReceipt
		decode(t, rec, &receipt)
		assert.Equal(t, "1_4", receipt.ChatID)
		assert.NotEmpty(t, receipt.MessageID)
	}

	var page entity.MessagePage
	rec := a.request(t, http.MethodGet, "/v1/chats/1_4/messages?limit=2", 4, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "m2", page.Items[0].Text)
	require.NotNil(t, page.Cursor)

	q := url.Values{}
	q.Set("limit", "2")
	q.Set("before_id", page.Cursor.ID)
	q.Set("before_at", page.Cursor.CreatedAt.Format(time.RFC3339Nano))
	rec = a.request(t, http.MethodGet, "/v1/chats/1_4/messages?"+q.Encode(), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var older entity.MessagePage
	decode(t, rec, &older)
	require.Len(t, older.Items, 1)
	assert.Equal(t, "m0", older.Items[0].Text)
}

func TestMalformedCursorIsRejected(t *testing.T) {
	a := newTestAPI(t)

	for _, text := range []string{"one", "two", "three"} {
		rec := a.request(t, http.MethodPost, "/v1/messages", 1, map[string]interface{}{"recipient_id": 2, "text": text})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	for _, query := range []string{
		"limit=2&before_id=abc&before_at=yesterday",
		"limit=2&before_id=abc",
		"limit=2&before_at=" + time.Now().UTC().Format(time.RFC3339Nano),
	} {
		rec := a.request(t, http.MethodGet, "/v1/chats/1_2/messages?"+query, 1, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}

	rec := a.request(t, http.MethodGet, "/v1/chats/1_2/messages?limit=2", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page entity.MessagePage
	decode(t, rec, &page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "three", page.Items[0].Text)
}

func TestChatRoutesRequireMembership(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodGet, "/v1/chats/1_4/messages", 9, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.request(t, http.MethodPut, "/v1/chats/1_4/block", 9, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.request(t, http.MethodPut, "/v1/chats/4_1/read", 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockDropsMessages(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/v1/chats", 1, map[string]interface{}{"peer_id": 4})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.request(t, http.MethodPut, "/v1/chats/1_4/block", 1, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var receipt usecase.SendReceipt
	rec = a.request(t, http.MethodPost, "/v1/messages", 4, map[string]interface{}{"recipient_id": 1, "text": "hello?"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &receipt)
	assert.True(t, receipt.Dropped)

	rec = a.request(t, http.MethodDelete, "/v1/chats/1_4/block", 4, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.request(t, http.MethodPost, "/v1/messages", 4, map[string]interface{}{"recipient_id": 1, "text": "hello?"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &receipt)
	assert.False(t, receipt.Dropped)
}

func TestMarkReadAndResummarize(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/v1/messages", 1, map[string]interface{}{"recipient_id": 4, "text": "ping"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.request(t, http.MethodPut, "/v1/chats/1_4/read", 4, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.request(t, http.MethodPost, "/v1/chats/1_4/resummarize", 1, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	doc, err := a.store.Get("chats/1_4")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"1": false, "4": false}, doc.Data["unreadFor"])
}

func TestSendMessageRateLimited(t *testing.T) {
	a := newTestAPI(t)

	burst := ratelimit.DefaultPolicies[ratelimit.ActionSendMessage].Burst
	for i := 0; i < burst; i++ {
		rec := a.request(t, http.MethodPost, "/v1/messages", 1, map[string]interface{}{"recipient_id": 4, "text": "spam"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := a.request(t, http.MethodPost, "/v1/messages", 1, map[string]interface{}{"recipient_id": 4, "text": "spam"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = a.request(t, http.MethodPost, "/v1/messages", 4, map[string]interface{}{"recipient_id": 1, "text": "not spam"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func (a *testAPI) upload(t *testing.T, uid int64, field, filename string, content []byte) (*httptest.ResponseRecorder, entity.UploadResult) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads/chat-image", body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+firebase.DevToken(usecase.UserKey(uid)))
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var result entity.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result), rec.Body.String())
	return rec, result
}

func TestUploadChatImage(t *testing.T) {
	a := newTestAPI(t)
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	rec, result := a.upload(t, 7, "image", "dot.png", png)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entity.UploadStatusSuccess, result.Status)
	assert.True(t, strings.HasPrefix(result.ImgPath, "/chat-images/7/"))
	assert.True(t, strings.HasSuffix(result.ImgPath, ".png"))
	assert.Equal(t, "image/png:"+string(png), a.images.objects[result.ImgPath])

	rec, result = a.upload(t, 7, "image", "notes.png", []byte("just some text"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "error", result.Status)
	assert.NotEmpty(t, result.Message)

	rec, _ = a.upload(t, 7, "file", "dot.png", png)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadEndpointServesImageUploader(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	uploader := usecase.NewImageUploader(srv.URL+"/v1/uploads/chat-image", credential.Static(firebase.DevToken("7")), srv.Client())
	path, err := uploader.UploadMessageImage(context.Background(), "dot.png", bytes.NewReader(png))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "/chat-images/7/"))

	_, err = uploader.UploadMessageImage(context.Background(), "notes.txt", strings.NewReader("plain text"))
	assert.Error(t, err)
}

func TestPresenceRoutes(t *testing.T) {
	a := newTestAPI(t)

	var p entity.Presence
	rec := a.request(t, http.MethodGet, "/v1/presence/7", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	assert.Equal(t, entity.PresenceOffline, p.Status)

	var stopped struct {
		Stopped bool `json:"stopped"`
	}
	rec = a.request(t, http.MethodPost, "/v1/presence/stop", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stopped)
	assert.False(t, stopped.Stopped)
}

func TestDevToken(t *testing.T) {
	a := newTestAPI(t)

	var token struct {
		UserID int64  `json:"user_id"`
		Token  string `json:"token"`
	}
	rec := a.request(t, http.MethodGet, "/_dev/token/12", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &token)
	assert.Equal(t, "dev:12", token.Token)

	_, err := a.store.Get("presence/12")
	assert.NoError(t, err)
}

// wsConn reads frames in order, skipping those the test does not wait for.
type wsConn struct {
	*websocket.Conn
}

func (a *testAPI) dialWS(t *testing.T, srv *httptest.Server, uid int64) *wsConn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + url.QueryEscape(firebase.DevToken(usecase.UserKey(uid)))
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsConn{conn}
}

func (c *wsConn) send(t *testing.T, frameType, subID string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(ws.WSMessage{Type: frameType, SubID: subID, Data: raw}))
}

func (c *wsConn) next(t *testing.T, frameType string) ws.WSMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, c.SetReadDeadline(deadline))
		var msg ws.WSMessage
		require.NoError(t, c.ReadJSON(&msg))
		if msg.Type == frameType {
			return msg
		}
	}
}

func (a *testAPI) online(t *testing.T, uid int64) bool {
	t.Helper()
	p, err := a.presence.GetPresence(context.Background(), uid)
	return err == nil && p.IsOnline()
}

func TestWebSocketSubscriptionsAndPresence(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	conn := a.dialWS(t, srv, 1)
	assert.Eventually(t, func() bool { return a.online(t, 1) }, 2*time.Second, 10*time.Millisecond)

	conn.send(t, ws.MessageTypeSubscribeLatest, "", map[string]interface{}{"chat_id": "1_4", "page_size": 10})
	subID := conn.next(t, ws.MessageTypeSubscribed).SubID
	require.NotEmpty(t, subID)
	first := conn.next(t, ws.MessageTypeLatest)
	assert.Equal(t, subID, first.SubID)

	rec := a.request(t, http.MethodPost, "/v1/messages", 4, map[string]interface{}{"recipient_id": 1, "text": "live"})
	require.Equal(t, http.StatusOK, rec.Code)

	var latest struct {
		ChatID   string            `json:"chat_id"`
		Messages []*entity.Message `json:"messages"`
	}
	for len(latest.Messages) == 0 {
		require.NoError(t, json.Unmarshal(conn.next(t, ws.MessageTypeLatest).Data, &latest))
	}
	assert.Equal(t, "1_4", latest.ChatID)
	assert.Equal(t, "live", latest.Messages[0].Text)

	conn.send(t, ws.MessageTypeSubscribeMeta, "", map[string]interface{}{"chat_id": "2_3"})
	var errData ws.ErrorData
	require.NoError(t, json.Unmarshal(conn.next(t, ws.MessageTypeError).Data, &errData))
	assert.Equal(t, "FORBIDDEN", errData.Code)

	conn.send(t, ws.MessageTypeSubscribePresence, "", map[string]interface{}{"user_ids": []int64{1, 4}})
	var statuses struct {
		Statuses map[string]bool `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(conn.next(t, ws.MessageTypePresence).Data, &statuses))
	assert.Len(t, statuses.Statuses, 2)
	assert.False(t, statuses.Statuses["4"])

	conn.send(t, ws.MessageTypeAppState, "", map[string]string{"state": "background"})
	assert.Eventually(t, func() bool { return !a.online(t, 1) }, 2*time.Second, 10*time.Millisecond)
	conn.send(t, ws.MessageTypeAppState, "", map[string]string{"state": "active"})
	assert.Eventually(t, func() bool { return a.online(t, 1) }, 2*time.Second, 10*time.Millisecond)

	conn.send(t, ws.MessageTypeUnsubscribe, subID, nil)
	assert.Equal(t, subID, conn.next(t, ws.MessageTypeUnsubscribed).SubID)

	conn.Close()
	assert.Eventually(t, func() bool {
		return !a.online(t, 1) && a.store.ListenerCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, a.stoppers.StopPresenceIfAny(1))
}

func TestStopPresenceEndsTrackingOfOpenConnection(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	conn := a.dialWS(t, srv, 1)
	assert.Eventually(t, func() bool { return a.online(t, 1) }, 2*time.Second, 10*time.Millisecond)

	var stopped struct {
		Stopped bool `json:"stopped"`
	}
	rec := a.request(t, http.MethodPost, "/v1/presence/stop", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stopped)
	assert.True(t, stopped.Stopped)
	assert.False(t, a.online(t, 1))

	conn.next(t, ws.MessageTypePresenceStopped)

	conn.send(t, ws.MessageTypeAppState, "", map[string]string{"state": "active"})
	conn.send(t, "ping", "after", nil)
	conn.next(t, ws.MessageTypePong)
	assert.False(t, a.online(t, 1))
}
