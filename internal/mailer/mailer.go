package mailer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formbridge/internal/config"
	"formbridge/internal/normalize"
)

// Message is one outbound email
type Message struct {
	To       string
	Subject  string
	Text     string
	HTML     string
	Sender   string
	FromName string
	ReplyTo  string
	CC       []string
	Headers  map[string]string
}

// Sender delivers messages through an external transport. Send
// returns whether the transport accepted the message, the transport's
// error text if it did not, and the HTTP status code. It is safe to
// call multiple times per submission, once per recipient.
type Sender interface {
	Send(msg Message) (bool, string, int)
}

// HTTPSender posts messages to a SendGrid-style mail API
type HTTPSender struct {
	cfg    config.MailConfig
	client *http.Client
}

// NewHTTPSender creates a sender over the configured mail API
func NewHTTPSender(cfg config.MailConfig) *HTTPSender {
	return &HTTPSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one message to the transport
func (s *HTTPSender) Send(msg Message) (bool, string, int) {
	if msg.To == "" || msg.Subject == "" || msg.Text == "" || msg.Sender == "" {
		return false, "to, subject, text and sender are required", 0
	}

	data := url.Values{}
	data.Set("api_user", s.cfg.APIUser)
	data.Set("api_key", s.cfg.APIKey)
	data.Set("to", msg.To)
	data.Set("subject", msg.Subject)
	data.Set("text", msg.Text)
	if msg.HTML != "" {
		data.Set("html", msg.HTML)
	}

	from, fromName := splitSender(msg.Sender)
	data.Set("from", from)
	if fromName != "" {
		data.Set("fromname", fromName)
	}
	if msg.FromName != "" {
		data.Set("fromname", msg.FromName)
	}

	if msg.ReplyTo != "" {
		data.Set("replyto", msg.ReplyTo)
	}
	for _, cc := range msg.CC {
		if normalize.IsValidEmail(cc) {
			data.Add("cc", cc)
		}
	}
	if len(msg.Headers) > 0 {
		encoded, err := json.Marshal(msg.Headers)
		if err == nil {
			data.Set("headers", string(encoded))
		}
	}

	resp, err := s.client.PostForm(s.cfg.APIURL, data)
	if err != nil {
		logrus.WithFields(logrus.Fields{"to": msg.To, "error": err}).Warn("Could not reach mail API")
		return false, err.Error(), 0
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		errmsg := fmt.Sprintf("mail API returned status %d", resp.StatusCode)
		logrus.WithFields(logrus.Fields{"to": msg.To, "status": resp.StatusCode}).Warn("Could not send email")
		return false, errmsg, resp.StatusCode
	}

	logrus.WithField("to", msg.To).Info("Sent email")
	return true, "", resp.StatusCode
}

// splitSender parses "Name <a@b.c>" into its address and name parts
func splitSender(sender string) (string, string) {
	bracket := strings.Index(sender, "<")
	if bracket < 0 || !strings.HasSuffix(sender, ">") {
		return sender, ""
	}
	return sender[bracket+1 : len(sender)-1], strings.TrimSpace(sender[:bracket])
}
