package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-chat-go/engine"
	"nano-chat-go/model"
	"nano-chat-go/store"
)

// newTestServer stands up the full handler over an in-memory store and
// two mock models, one of them vision-capable.
func newTestServer(t *testing.T, response string, stepDelayMS int) (*Server, *httptest.Server, *store.Store) {
	t.Helper()
	return newTestServerWithSlots(t, response, stepDelayMS, 2)
}

// newTestServerWithSlots is newTestServer with the generation
// concurrency limit under test control.
func newTestServerWithSlots(t *testing.T, response string, stepDelayMS int, slots int64) (*Server, *httptest.Server, *store.Store) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaults := model.GenerationDefaults{Temperature: 0.7, TopP: 0.9, MaxTokens: 512}
	registry, err := model.NewRegistry([]model.ModelConfig{
		{ID: "mock-chat", Type: "mock", Response: response, StepDelayMS: stepDelayMS, Defaults: defaults},
		{ID: "mock-vision", Type: "mock", Vision: true, Response: response, StepDelayMS: stepDelayMS, Defaults: defaults},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	cfg := Config{
		UploadsDir:    t.TempDir(),
		AllowedOrigin: "*",
		MaxConcurrent: slots,
	}
	srv := New(cfg, st, registry, engine.NewConfig(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return srv, ts, st
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, "ok", 0)

	var body map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestModelsEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, "ok", 0)

	var body struct {
		Models []model.Info `json:"models"`
	}
	resp := getJSON(t, ts.URL+"/api/models", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Models, 2)
	assert.Equal(t, "mock-chat", body.Models[0].ID)
	assert.False(t, body.Models[0].Loaded)
	assert.True(t, body.Models[1].Vision)
}

func TestConversationsListAndMessages(t *testing.T) {
	_, ts, st := newTestServer(t, "ok", 0)

	var empty []store.ConversationSummary
	resp := getJSON(t, ts.URL+"/api/conversations", &empty)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, empty)

	user, err := st.GetOrCreateDefaultUser()
	require.NoError(t, err)
	conv, err := st.CreateConversation(user.ID, "tell me about lighthouses")
	require.NoError(t, err)
	_, err = st.CreateMessage(conv.ID, "user", "tell me about lighthouses")
	require.NoError(t, err)
	_, err = st.CreateMessage(conv.ID, "assistant", "they have lights")
	require.NoError(t, err)

	var summaries []store.ConversationSummary
	getJSON(t, ts.URL+"/api/conversations", &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, conv.ID, summaries[0].ID)

	var messages []messagePayload
	resp = getJSON(t, ts.URL+"/api/chat/"+itoa(conv.ID)+"/messages", &messages)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "they have lights", messages[1].Content)
	assert.NotEmpty(t, messages[0].Timestamp)
}

func TestMessagesUnknownConversation(t *testing.T) {
	_, ts, _ := newTestServer(t, "ok", 0)

	resp, err := http.Get(ts.URL + "/api/chat/9999/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteConversation(t *testing.T) {
	_, ts, st := newTestServer(t, "ok", 0)

	user, err := st.GetOrCreateDefaultUser()
	require.NoError(t, err)
	conv, err := st.CreateConversation(user.ID, "short lived")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/conversations/"+itoa(conv.ID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A second delete is a 404.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadImage(t *testing.T, url, filename string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/upload-image", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestUploadImageRoundTrip(t *testing.T) {
	_, ts, _ := newTestServer(t, "ok", 0)
	data := encodeTestPNG(t)

	resp := uploadImage(t, ts.URL, "photo.png", data)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, strings.HasSuffix(result["filename"], ".png"))
	assert.Equal(t, "/uploads/"+result["filename"], result["url"])

	// Same bytes hash to the same name.
	resp2 := uploadImage(t, ts.URL, "copy.png", data)
	defer resp2.Body.Close()
	var result2 map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&result2))
	assert.Equal(t, result["filename"], result2["filename"])

	served, err := http.Get(ts.URL + result["url"])
	require.NoError(t, err)
	defer served.Body.Close()
	assert.Equal(t, http.StatusOK, served.StatusCode)
	got, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadImageDataURL(t *testing.T) {
	_, ts, _ := newTestServer(t, "ok", 0)
	data := encodeTestPNG(t)

	body, err := json.Marshal(map[string]string{
		"image":    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		"filename": "pasted.png",
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/upload-image", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, strings.HasSuffix(result["filename"], ".png"))

	served, err := http.Get(ts.URL + result["url"])
	require.NoError(t, err)
	defer served.Body.Close()
	got, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUploadImageRejectsBadInput(t *testing.T) {
	_, ts, _ := newTestServer(t, "ok", 0)

	resp := uploadImage(t, ts.URL, "notes.txt", []byte("plain text"))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Right extension, not an image.
	resp = uploadImage(t, ts.URL, "fake.png", []byte("plain text"))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
