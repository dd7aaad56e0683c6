package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Template IDs used across the clinic.
const (
	TplBookingReceived      = "booking-received"
	TplAppointmentApproved  = "appointment-approved"
	TplAppointmentDeclined  = "appointment-declined"
	TplAppointmentCompleted = "appointment-completed"
	TplAppointmentCancelled = "appointment-cancelled"
	TplAppointmentReminder  = "appointment-reminder"
	TplInventoryAlert       = "inventory-alert"
	TplNewMessage           = "new-message"
	TplOTPCode              = "otp-code"
)

// Template carries the in-app title and the body shared by every channel.
// Kind is stored on the in-app notification row.
type Template struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine holds templates and renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    TplBookingReceived,
			Kind:  "appointment",
			Title: "New appointment request",
			Body:  "{{patient_name}} requested {{service}} on {{date}} at {{time}}.",
		},
		{
			ID:    TplAppointmentApproved,
			Kind:  "appointment",
			Title: "Appointment approved",
			Body:  "{{clinic}}: Hi {{patient_name}}, your {{service}} appointment on {{date}} at {{time}} is approved. See you!",
		},
		{
			ID:    TplAppointmentDeclined,
			Kind:  "appointment",
			Title: "Appointment declined",
			Body:  "{{clinic}}: Hi {{patient_name}}, we could not accommodate your {{service}} appointment on {{date}}. {{reason}}",
		},
		{
			ID:    TplAppointmentCompleted,
			Kind:  "appointment",
			Title: "Visit completed",
			Body:  "{{clinic}}: Thank you for visiting, {{patient_name}}. Your {{service}} appointment is marked completed.",
		},
		{
			ID:    TplAppointmentCancelled,
			Kind:  "appointment",
			Title: "Appointment cancelled",
			Body:  "{{patient_name}} cancelled the {{service}} appointment on {{date}} at {{time}}.",
		},
		{
			ID:    TplAppointmentReminder,
			Kind:  "reminder",
			Title: "Appointment tomorrow",
			Body:  "{{clinic}}: Reminder, {{patient_name}}. Your {{service}} appointment is tomorrow, {{date}} at {{time}}.",
		},
		{
			ID:    TplInventoryAlert,
			Kind:  "inventory",
			Title: "Inventory alert",
			Body:  "{{low_stock}} item(s) low on stock, {{expiring}} expiring within {{days}} days, {{expired}} expired.",
		},
		{
			ID:    TplNewMessage,
			Kind:  "message",
			Title: "New message",
			Body:  "{{sender_name}}: {{preview}}",
		},
		{
			ID:    TplOTPCode,
			Kind:  "otp",
			Title: "Verification code",
			Body:  "{{clinic}}: Your verification code is {{code}}. It expires in {{minutes}} minutes.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Rendered is a template with its placeholders filled in.
type Rendered struct {
	Kind  string
	Title string
	Body  string
}

// Render replaces {{key}} with data[key]. Keys absent from data are left
// as-is; surrounding whitespace is trimmed so an empty optional value does
// not leave a trailing space.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Rendered, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Rendered{}, fmt.Errorf("template %q not found", templateID)
	}

	title, body := t.Title, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return Rendered{Kind: t.Kind, Title: title, Body: strings.TrimSpace(body)}, nil
}
