package notification

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/models"
)

// Mailer sends one rendered email.
type Mailer interface {
	Send(ctx context.Context, to string, msg *Message) error
}

// Pusher delivers one push notification to a device.
type Pusher interface {
	Push(ctx context.Context, device models.PushDevice, title, body string) error
}

// ---------------- EMAIL ----------------

type SMTPMailer struct {
	cfg  config.EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, to string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := buildMIME(m.cfg.From, to, msg, time.Now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	}
	addr := net.JoinHostPort(m.cfg.SMTPHost, m.cfg.SMTPPort)
	if err := m.send(addr, auth, m.cfg.From, []string{to}, body); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// buildMIME renders a multipart/alternative message with plain and HTML parts.
func buildMIME(from, to string, msg *Message, date time.Time) ([]byte, error) {
	var parts bytes.Buffer
	w := multipart.NewWriter(&parts)

	for _, p := range []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	} {
		pw, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", to)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", date.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", w.Boundary())
	out.Write(parts.Bytes())
	return out.Bytes(), nil
}

// ---------------- PUSH ----------------

// KafkaPusher hands push messages to the external push gateway through the
// push topic.
type KafkaPusher struct {
	publisher Publisher
	topic     string
	now       func() time.Time
}

func NewKafkaPusher(publisher Publisher, topic string) *KafkaPusher {
	return &KafkaPusher{publisher: publisher, topic: topic, now: time.Now}
}

func (p *KafkaPusher) Push(ctx context.Context, device models.PushDevice, title, body string) error {
	return p.publisher.PublishJSON(ctx, p.topic, device.DeviceToken, models.PushMessage{
		DeviceToken: device.DeviceToken,
		DeviceType:  device.DeviceType,
		UserID:      device.UserID,
		Title:       title,
		Body:        body,
		SentAt:      p.now(),
	})
}
