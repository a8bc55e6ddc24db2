package messaging

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SolapiTemplate binds an event to an approved alimtalk template and the
// variables that template declares.
type SolapiTemplate struct {
	ID        string
	Variables []string
}

// DefaultSolapiTemplates are the templates registered for the Kakao channel.
var DefaultSolapiTemplates = map[string]SolapiTemplate{
	"late":           {ID: "7omf6A4JxL", Variables: []string{"기관명", "학생명", "시간"}},
	"absent":         {ID: "grzUv3iBJ8", Variables: []string{"기관명", "학생명"}},
	"checkin":        {ID: "09nmpwYZnv", Variables: []string{"기관명", "학생명", "시간"}},
	"checkout":       {ID: "TJygY5dhpe", Variables: []string{"기관명", "학생명", "시간"}},
	"study_out":      {ID: "a4Qhq4ubGx", Variables: []string{"기관명", "학생명", "시간"}},
	"study_return":   {ID: "ncH60rIuUj", Variables: []string{"기관명", "학생명", "시간"}},
	"daily_report":   {ID: "6dkVxZdXta", Variables: []string{"기관명", "학생명", "날짜", "총학습시간", "완료과목"}},
	"lesson_report":  {ID: "gcrkaJcXt7", Variables: []string{"기관명", "학생명", "오늘수업", "학습포인트", "선생님코멘트", "원장님코멘트", "숙제", "복습팁"}},
	"exam_result":    {ID: "KfVANY1h0J", Variables: []string{"기관명", "학생명", "시험명", "점수"}},
	"assignment_new": {ID: "s2crA6UhRd", Variables: []string{"기관명", "학생명", "과제명", "마감일"}},
}

// SolapiConfig holds credentials for the Solapi messaging API.
type SolapiConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	PFID      string
	Sender    string
}

// Solapi sends Kakao alimtalk messages. Without credentials it runs in dev
// mode: messages are logged and reported as sent with a mock id.
type Solapi struct {
	cfg       SolapiConfig
	templates map[string]SolapiTemplate
	HTTP      *http.Client
	Skip      bool
	log       *slog.Logger
	now       func() time.Time
	salt      func() string
}

// NewSolapi creates a client with the given request timeout.
func NewSolapi(cfg SolapiConfig, timeout time.Duration, log *slog.Logger) *Solapi {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.solapi.com"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Solapi{
		cfg:       cfg,
		templates: DefaultSolapiTemplates,
		HTTP:      &http.Client{Timeout: timeout},
		Skip:      cfg.APIKey == "" || cfg.APISecret == "" || cfg.PFID == "",
		log:       log,
		now:       time.Now,
		salt:      func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizePhone strips everything except digits.
func NormalizePhone(p string) string {
	return nonDigits.ReplaceAllString(p, "")
}

// Sign computes the hex HMAC-SHA256 of date+salt keyed by secret.
func Sign(secret, date, salt string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(date + salt))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Solapi) authHeader() string {
	date := c.now().UTC().Format(time.RFC3339Nano)
	salt := c.salt()
	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s",
		c.cfg.APIKey, date, salt, Sign(c.cfg.APISecret, date, salt))
}

type solapiKakaoOptions struct {
	PFID       string            `json:"pfId"`
	TemplateID string            `json:"templateId"`
	Variables  map[string]string `json:"variables"`
	DisableSMS bool              `json:"disableSms"`
}

type solapiMessage struct {
	To           string             `json:"to"`
	From         string             `json:"from"`
	Text         string             `json:"text,omitempty"`
	KakaoOptions solapiKakaoOptions `json:"kakaoOptions"`
}

type solapiResponse struct {
	GroupID       string `json:"groupId"`
	MessageID     string `json:"messageId"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
}

// Send delivers msg as an alimtalk to msg.To.
func (c *Solapi) Send(ctx context.Context, msg Message) (Result, error) {
	to := NormalizePhone(msg.To)
	if to == "" {
		return Result{}, ErrEmptyRecipient
	}
	if c.Skip {
		c.log.DebugContext(ctx, "solapi dev mode, not sending",
			slog.String("event_type", msg.Event), slog.String("to", to))
		return Result{MessageID: mockID(c.now()), Mock: true}, nil
	}
	tpl, ok := c.templates[msg.Event]
	if !ok || tpl.ID == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Event)
	}

	vars := make(map[string]string, len(tpl.Variables))
	for _, name := range tpl.Variables {
		vars["#{"+name+"}"] = msg.Variables[name]
	}
	body, err := json.Marshal(map[string]solapiMessage{"message": {
		To:   to,
		From: c.cfg.Sender,
		Text: msg.Text,
		KakaoOptions: solapiKakaoOptions{
			PFID:       c.cfg.PFID,
			TemplateID: tpl.ID,
			Variables:  vars,
		},
	}})
	if err != nil {
		return Result{}, fmt.Errorf("solapi: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages/v4/send", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("solapi request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out solapiResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 || out.ErrorCode != "" {
		reason := out.ErrorMessage
		if reason == "" {
			reason = out.StatusMessage
		}
		if reason == "" {
			reason = string(raw)
		}
		return Result{}, fmt.Errorf("solapi error %s: %s", resp.Status, reason)
	}

	id := out.MessageID
	if id == "" {
		id = out.GroupID
	}
	return Result{MessageID: id}, nil
}
