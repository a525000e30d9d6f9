package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultRobotURL = "https://oapi.dingtalk.com/robot/send"

// DingTalk sends messages to a DingTalk group robot using the signed
// webhook scheme: each request URL carries a millisecond timestamp and an
// HMAC-SHA256 signature over "timestamp\nsecret".
type DingTalk struct {
	robotURL    string
	accessToken string
	secret      string
	httpc       *http.Client
	log         *slog.Logger
	now         func() time.Time
}

var _ Notifier = (*DingTalk)(nil)

// NewDingTalk creates a DingTalk notifier. Returns Nop when the access
// token or secret is empty.
func NewDingTalk(accessToken, secret string, log *slog.Logger) Notifier {
	if accessToken == "" || secret == "" {
		log.Warn("dingtalk not configured, notifications disabled")
		return Nop{}
	}
	return &DingTalk{
		robotURL:    defaultRobotURL,
		accessToken: accessToken,
		secret:      secret,
		httpc:       &http.Client{Timeout: 10 * time.Second},
		log:         log,
		now:         time.Now,
	}
}

func (d *DingTalk) signedURL() string {
	timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write([]byte(timestamp + "\n" + d.secret))
	sign := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return fmt.Sprintf("%s?access_token=%s&timestamp=%s&sign=%s",
		d.robotURL, d.accessToken, timestamp, sign)
}

type robotResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// SendText sends a plain text message to the group.
func (d *DingTalk) SendText(ctx context.Context, msg string) error {
	body := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": msg},
	}
	return d.post(ctx, body)
}

// SendMarkdown sends a markdown message to the group.
func (d *DingTalk) SendMarkdown(ctx context.Context, title, text string) error {
	body := map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]string{"title": title, "text": text},
	}
	return d.post(ctx, body)
}

func (d *DingTalk) post(ctx context.Context, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signedURL(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		d.log.Error("dingtalk send failed", "err", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("dingtalk: status %d", resp.StatusCode)
		d.log.Error("dingtalk send failed", "err", err)
		return err
	}

	var out robotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if out.ErrCode != 0 {
		err := fmt.Errorf("dingtalk: errcode %d: %s", out.ErrCode, out.ErrMsg)
		d.log.Error("dingtalk send failed", "err", err)
		return err
	}
	return nil
}
