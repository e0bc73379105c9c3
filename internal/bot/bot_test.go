package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/submitter"
	"github.com/cuongbtq/detect-pipeline/shared/logger"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu          sync.Mutex
	sent        []sentMessage
	files       map[string][]byte
	downloadErr error
}

func (m *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	data, ok := m.files[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

type fakeSubmitter struct {
	requests []submitter.SubmitRequest
	err      error
}

func (s *fakeSubmitter) Submit(ctx context.Context, req submitter.SubmitRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.requests = append(s.requests, req)
	return "01JOB", nil
}

func photoUpdate(chatID int64) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 7,
		Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: chatID},
			Photo: []tgbotapi.PhotoSize{
				{FileID: "small", FileUniqueID: "u-small", Width: 90, Height: 60},
				{FileID: "large", FileUniqueID: "u-large", Width: 1280, Height: 853},
				{FileID: "medium", FileUniqueID: "u-medium", Width: 320, Height: 213},
			},
		},
	}
}

func TestDispatcher_HandleUpdate(t *testing.T) {
	tests := []struct {
		name         string
		update       tgbotapi.Update
		submitErr    error
		downloadErr  error
		wantErr      bool
		wantReplies  []sentMessage
		wantSubmits  int
		wantFilename string
	}{
		{
			name:         "photo is submitted",
			update:       photoUpdate(42),
			wantReplies:  []sentMessage{{chatID: 42, text: ProcessingReply}},
			wantSubmits:  1,
			wantFilename: "u-large.jpg",
		},
		{
			name:        "submission failure apologises",
			update:      photoUpdate(42),
			submitErr:   errors.New("queue down"),
			wantErr:     true,
			wantReplies: []sentMessage{{chatID: 42, text: FailureReply}},
		},
		{
			name:        "download failure apologises",
			update:      photoUpdate(42),
			downloadErr: errors.New("telegram down"),
			wantErr:     true,
			wantReplies: []sentMessage{{chatID: 42, text: FailureReply}},
		},
		{
			name: "text is echoed",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: 7},
				Text: "hello",
			}},
			wantReplies: []sentMessage{{chatID: 7, text: "Your original message: hello"}},
		},
		{
			name:   "update without message",
			update: tgbotapi.Update{UpdateID: 1},
		},
		{
			name: "sticker is ignored",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: 7},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messenger := &fakeMessenger{
				files:       map[string][]byte{"large": []byte("large jpeg"), "small": []byte("small jpeg")},
				downloadErr: tt.downloadErr,
			}
			sub := &fakeSubmitter{err: tt.submitErr}
			d := NewDispatcher(messenger, sub, logger.NewDiscard())

			err := d.HandleUpdate(context.Background(), tt.update)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantReplies, messenger.sent)
			require.Len(t, sub.requests, tt.wantSubmits)
			if tt.wantSubmits > 0 {
				req := sub.requests[0]
				assert.Equal(t, "42", req.RequesterRef)
				assert.Equal(t, []byte("large jpeg"), req.Data)
				assert.Equal(t, tt.wantFilename, req.Filename)
				assert.Equal(t, "image/jpeg", req.ContentType)
			}
		})
	}
}

const testToken = "123:abc"

type fakeBotAPI struct {
	mu   sync.Mutex
	sent []url.Values
	hook string
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	api := &fakeBotAPI{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bot" + testToken + "/getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"detect","username":"detectbot"}}`)
		case "/bot" + testToken + "/sendMessage":
			assert.NoError(t, r.ParseForm())
			api.mu.Lock()
			api.sent = append(api.sent, r.PostForm)
			api.mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
		case "/bot" + testToken + "/getFile":
			io.WriteString(w, `{"ok":true,"result":{"file_id":"f1","file_unique_id":"u1","file_size":10,"file_path":"photos/f1.jpg"}}`)
		case "/bot" + testToken + "/setWebhook":
			assert.NoError(t, r.ParseForm())
			api.mu.Lock()
			api.hook = r.PostForm.Get("url")
			api.mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":true}`)
		case "/file/bot" + testToken + "/photos/f1.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			io.WriteString(w, "jpeg bytes")
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func newTestMessenger(t *testing.T, srv *httptest.Server, maxFileBytes int64) *TelegramMessenger {
	t.Helper()
	m, err := NewTelegramMessenger(TelegramConfig{
		Token:        testToken,
		APIEndpoint:  srv.URL + "/bot%s/%s",
		FileEndpoint: srv.URL + "/file/bot%s/%s",
		HTTPClient:   srv.Client(),
		MaxFileBytes: maxFileBytes,
		Logger:       logger.NewDiscard(),
	})
	require.NoError(t, err)
	return m
}

func TestTelegramMessenger_SendText(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	m := newTestMessenger(t, srv, 0)

	require.NoError(t, m.SendText(context.Background(), 42, "Detected objects:\nperson: 1"))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "42", api.sent[0].Get("chat_id"))
	assert.Equal(t, "Detected objects:\nperson: 1", api.sent[0].Get("text"))
}

func TestTelegramMessenger_DownloadFile(t *testing.T) {
	_, srv := newFakeBotAPI(t)

	data, err := newTestMessenger(t, srv, 0).DownloadFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)

	_, err = newTestMessenger(t, srv, 4).DownloadFile(context.Background(), "f1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestTelegramMessenger_SetWebhook(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	m := newTestMessenger(t, srv, 0)

	require.NoError(t, m.SetWebhook("https://bot.example.com/telegram/"+testToken))
	assert.True(t, strings.HasSuffix(api.hook, "/telegram/"+testToken))

	assert.Error(t, m.SetWebhook("::not a url"))
}

func TestNewTelegramMessenger_BadToken(t *testing.T) {
	_, srv := newFakeBotAPI(t)

	_, err := NewTelegramMessenger(TelegramConfig{
		Token:       "wrong",
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
		Logger:      logger.NewDiscard(),
	})
	assert.Error(t, err)
}
