package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strconv"
	"strings"

	"ms-registration/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFiles = map[models.NotificationKind]string{
	models.KindRegistrationConfirmation: "templates/registration_confirmation.html",
	models.KindRegistrationCancellation: "templates/registration_cancellation.html",
	models.KindEventAnnouncement:        "templates/event_announcement.html",
}

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

type messageData struct {
	Subject      string
	Name         string
	EventURL     string
	Event        *models.Event
	Registration *models.Registration
	Body         template.HTML
}

type Renderer struct {
	sets         map[models.NotificationKind]*template.Template
	frontendRoot string
}

func NewRenderer(frontendRoot string) (*Renderer, error) {
	sets := make(map[models.NotificationKind]*template.Template, len(templateFiles))
	for kind, file := range templateFiles {
		t, err := template.ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		sets[kind] = t
	}
	if frontendRoot != "" && !strings.HasSuffix(frontendRoot, "/") {
		frontendRoot += "/"
	}
	return &Renderer{sets: sets, frontendRoot: frontendRoot}, nil
}

// EventURL is the public page of the event on the frontend.
func (r *Renderer) EventURL(event *models.Event) string {
	ref := event.Slug
	if ref == "" {
		ref = strconv.FormatInt(event.ID, 10)
	}
	return r.frontendRoot + "events/" + ref
}

// Render builds the email for task. reg may be nil for announcements.
// Announcement bodies are staff-authored HTML and are inserted unescaped.
func (r *Renderer) Render(task models.NotificationTask, event *models.Event, user *models.User, reg *models.Registration) (*Message, error) {
	set, ok := r.sets[task.Kind]
	if !ok {
		return nil, fmt.Errorf("no template for notification kind %q", task.Kind)
	}

	data := messageData{
		Name:         user.FullName,
		EventURL:     r.EventURL(event),
		Event:        event,
		Registration: reg,
	}
	if data.Name == "" {
		data.Name = user.Email
	}
	switch task.Kind {
	case models.KindRegistrationConfirmation:
		data.Subject = "Registration confirmed: " + event.Title
	case models.KindRegistrationCancellation:
		data.Subject = "Registration cancelled: " + event.Title
	default:
		data.Subject = task.Subject
		data.Body = template.HTML(task.Body)
	}

	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("render %s: %w", task.Kind, err)
	}
	return &Message{Subject: data.Subject, HTML: buf.String(), Text: plainText(buf.String())}, nil
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<head>.*?</head>|<[^>]*>`)
	blankPattern = regexp.MustCompile(`\n\s*\n+`)
)

func plainText(body string) string {
	text := html.UnescapeString(tagPattern.ReplaceAllString(body, ""))
	return strings.TrimSpace(blankPattern.ReplaceAllString(text, "\n\n"))
}
