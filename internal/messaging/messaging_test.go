package messaging_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/logging"
	"studyroom/internal/messaging"
)

func TestSign(t *testing.T) {
	t.Parallel()

	got := messaging.Sign("secret", "2024-01-01T00:00:00Z", "abc")
	assert.Equal(t, "18a6191f4bfbc9091607db9be0addb69472fdd651baf5f5b6c61817a09834953", got)
	assert.NotEqual(t, got, messaging.Sign("other", "2024-01-01T00:00:00Z", "abc"))
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "01012345678", messaging.NormalizePhone("010-1234-5678"))
	assert.Equal(t, "", messaging.NormalizePhone(" - "))
}

func TestSolapiDevMode(t *testing.T) {
	t.Parallel()

	c := messaging.NewSolapi(messaging.SolapiConfig{}, time.Second, logging.Discard())
	require.True(t, c.Skip)

	res, err := c.Send(context.Background(), messaging.Message{Event: "checkin", To: "010-0000-0000"})
	require.NoError(t, err)
	assert.True(t, res.Mock)
	assert.Contains(t, res.MessageID, "mock_")

	_, err = c.Send(context.Background(), messaging.Message{Event: "checkin"})
	assert.ErrorIs(t, err, messaging.ErrEmptyRecipient)
}

func TestSolapiSend(t *testing.T) {
	t.Parallel()

	authPattern := regexp.MustCompile(`^HMAC-SHA256 apiKey=key, date=\S+, salt=[0-9a-f]{32}, signature=[0-9a-f]{64}$`)

	var got struct {
		Message struct {
			To           string `json:"to"`
			From         string `json:"from"`
			KakaoOptions struct {
				PFID       string            `json:"pfId"`
				TemplateID string            `json:"templateId"`
				Variables  map[string]string `json:"variables"`
			} `json:"kakaoOptions"`
		} `json:"message"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/v4/send", r.URL.Path)
		assert.Regexp(t, authPattern, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"groupId":"G1","messageId":"M1"}`))
	}))
	defer srv.Close()

	c := messaging.NewSolapi(messaging.SolapiConfig{
		BaseURL: srv.URL, APIKey: "key", APISecret: "secret", PFID: "pf", Sender: "0212345678",
	}, time.Second, logging.Discard())

	res, err := c.Send(context.Background(), messaging.Message{
		Event:     "checkin",
		To:        "010-1234-5678",
		Variables: map[string]string{"기관명": "골든펜", "학생명": "김철수", "시간": "09:00", "extra": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "M1", res.MessageID)
	assert.False(t, res.Mock)

	assert.Equal(t, "01012345678", got.Message.To)
	assert.Equal(t, "pf", got.Message.KakaoOptions.PFID)
	assert.Equal(t, "09nmpwYZnv", got.Message.KakaoOptions.TemplateID)
	assert.Equal(t, map[string]string{"#{기관명}": "골든펜", "#{학생명}": "김철수", "#{시간}": "09:00"}, got.Message.KakaoOptions.Variables)
}

func TestSolapiSendProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":"ValidationError","errorMessage":"bad template"}`))
	}))
	defer srv.Close()

	c := messaging.NewSolapi(messaging.SolapiConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s", PFID: "p"}, time.Second, logging.Discard())
	_, err := c.Send(context.Background(), messaging.Message{Event: "checkin", To: "01000000000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad template")

	_, err = c.Send(context.Background(), messaging.Message{Event: "unknown", To: "01000000000"})
	assert.ErrorIs(t, err, messaging.ErrUnknownEvent)
}

func TestSolapiTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := messaging.NewSolapi(messaging.SolapiConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s", PFID: "p"}, 50*time.Millisecond, logging.Discard())
	_, err := c.Send(context.Background(), messaging.Message{Event: "checkin", To: "01000000000"})
	assert.Error(t, err)
}

func TestTelegramMirror(t *testing.T) {
	t.Parallel()

	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := messaging.NewTelegram(srv.URL, "tok", "42", time.Second)
	require.NoError(t, tg.Mirror(context.Background(), "✅ hello"))
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "✅ hello", body["text"])

	unconfigured := messaging.NewTelegram(srv.URL, "", "", time.Second)
	assert.ErrorIs(t, unconfigured.Mirror(context.Background(), "x"), messaging.ErrNotConfigured)
}

func TestTelegramMirrorAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := messaging.NewTelegram(srv.URL, "tok", "1", time.Second).Mirror(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestEmailDevMode(t *testing.T) {
	t.Parallel()

	e := messaging.NewEmail("", "", "noreply@example.com", logging.Discard())
	require.True(t, e.Skip)

	res, err := e.Send(context.Background(), messaging.Message{Event: "checkin", To: "parent@example.com", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Mock)

	_, err = e.Send(context.Background(), messaging.Message{Event: "checkin"})
	assert.ErrorIs(t, err, messaging.ErrEmptyRecipient)
}
