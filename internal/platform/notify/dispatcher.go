// Package notify renders clinic templates and delivers them in-app, by SMS
// and by email. Deliveries are best effort: failures are logged and counted,
// and callers receive a Delivery describing what happened.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/telemetry"
)

// Recipient is the contact information the dispatcher needs for one user.
type Recipient struct {
	UserID    uuid.UUID
	Name      string
	Phone     string
	Email     string
	SMSOptOut bool
}

// Directory resolves users into recipients.
type Directory interface {
	Recipient(ctx context.Context, userID uuid.UUID) (*Recipient, error)
	RecipientsByRole(ctx context.Context, role string) ([]Recipient, error)
}

// InAppWriter stores in-app notifications.
type InAppWriter interface {
	CreateInApp(ctx context.Context, userID uuid.UUID, kind, title, body, link string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Channels selects where a message goes.
type Channels struct {
	InApp bool
	SMS   bool
	Email bool
}

var (
	InAppOnly   = Channels{InApp: true}
	InAppAndSMS = Channels{InApp: true, SMS: true}
)

// Message is a template reference plus its data.
type Message struct {
	Template string
	Data     map[string]string
	Link     string
}

// Delivery outcome values for SMS and email.
const (
	Sent    = "sent"
	Failed  = "failed"
	Skipped = "skipped"
)

// Delivery reports what a single Notify call did.
type Delivery struct {
	InApp     bool   `json:"in_app"`
	SMSSent   bool   `json:"sms_sent"`
	SMS       string `json:"sms,omitempty"`
	Email     string `json:"email,omitempty"`
	SkipCause string `json:"skip_reason,omitempty"`
}

type Dispatcher struct {
	templates *TemplateEngine
	directory Directory
	inApp     InAppWriter
	sms       SMSSender
	email     EmailSender
	defaults  map[string]string
	logger    zerolog.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

func WithSMS(s SMSSender) Option     { return func(d *Dispatcher) { d.sms = s } }
func WithEmail(s EmailSender) Option { return func(d *Dispatcher) { d.email = s } }
func WithTemplates(t *TemplateEngine) Option {
	return func(d *Dispatcher) { d.templates = t }
}

// WithDefaults sets template data applied to every message, such as the
// clinic name. Message data overrides it.
func WithDefaults(data map[string]string) Option {
	return func(d *Dispatcher) {
		for k, v := range data {
			d.defaults[k] = v
		}
	}
}

func NewDispatcher(directory Directory, inApp InAppWriter, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		templates: NewTemplateEngine(),
		directory: directory,
		inApp:     inApp,
		defaults:  map[string]string{},
		logger:    logger.With().Str("component", "notify").Logger(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Render fills msg's template without sending anything.
func (d *Dispatcher) Render(msg Message) (Rendered, error) {
	data := make(map[string]string, len(d.defaults)+len(msg.Data))
	for k, v := range d.defaults {
		data[k] = v
	}
	for k, v := range msg.Data {
		data[k] = v
	}
	return d.templates.Render(msg.Template, data)
}

// NotifyUser resolves userID and delivers msg on the selected channels.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID uuid.UUID, msg Message, ch Channels) Delivery {
	r, err := d.directory.Recipient(ctx, userID)
	if err != nil {
		d.logger.Warn().Err(err).Str("user_id", userID.String()).Str("template", msg.Template).Msg("resolve recipient")
		if !ch.InApp {
			return Delivery{}
		}
		r = &Recipient{UserID: userID}
		ch.SMS, ch.Email = false, false
	}
	return d.Notify(ctx, *r, msg, ch)
}

// NotifyRole delivers msg to every user with role and returns how many
// recipients received the in-app notification.
func (d *Dispatcher) NotifyRole(ctx context.Context, role string, msg Message, ch Channels) (int, error) {
	recipients, err := d.directory.RecipientsByRole(ctx, role)
	if err != nil {
		return 0, err
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got int
	)
	for _, r := range recipients {
		wg.Add(1)
		go func(r Recipient) {
			defer wg.Done()
			if d.Notify(ctx, r, msg, ch).InApp {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return got, nil
}

// Notify delivers msg to r. SMS is skipped when the recipient opted out or
// has no phone; no channel failure is returned to the caller.
func (d *Dispatcher) Notify(ctx context.Context, r Recipient, msg Message, ch Channels) Delivery {
	var out Delivery
	log := d.logger.With().Str("user_id", r.UserID.String()).Str("template", msg.Template).Logger()

	data := make(map[string]string, len(msg.Data)+1)
	if r.Name != "" {
		data["patient_name"] = r.Name
	}
	for k, v := range msg.Data {
		data[k] = v
	}
	msg.Data = data
	rendered, err := d.Render(msg)
	if err != nil {
		log.Error().Err(err).Msg("render notification")
		return out
	}

	if ch.InApp && d.inApp != nil {
		err := d.inApp.CreateInApp(ctx, r.UserID, rendered.Kind, rendered.Title, rendered.Body, msg.Link)
		if err != nil {
			log.Error().Err(err).Msg("create in-app notification")
			telemetry.RecordNotification("in_app", Failed)
		} else {
			out.InApp = true
			telemetry.RecordNotification("in_app", Sent)
		}
	}

	if ch.SMS {
		out.SMS, out.SkipCause = d.deliverSMS(ctx, r, rendered.Body, log)
		out.SMSSent = out.SMS == Sent
	}

	if ch.Email {
		out.Email = d.deliverEmail(ctx, r, rendered, log)
	}
	return out
}

func (d *Dispatcher) deliverSMS(ctx context.Context, r Recipient, body string, log zerolog.Logger) (string, string) {
	var cause string
	switch {
	case d.sms == nil:
		cause = "sms disabled"
	case r.SMSOptOut:
		cause = "opted out"
	case r.Phone == "":
		cause = "no phone number"
	}
	if cause != "" {
		telemetry.RecordNotification("sms", Skipped)
		log.Debug().Str("reason", cause).Msg("sms skipped")
		return Skipped, cause
	}

	if err := d.sms.SendSMS(ctx, r.Phone, body); err != nil {
		telemetry.RecordNotification("sms", Failed)
		log.Warn().Err(err).Msg("sms notification failed")
		return Failed, ""
	}
	telemetry.RecordNotification("sms", Sent)
	return Sent, ""
}

func (d *Dispatcher) deliverEmail(ctx context.Context, r Recipient, rendered Rendered, log zerolog.Logger) string {
	if d.email == nil || r.Email == "" {
		telemetry.RecordNotification("email", Skipped)
		return Skipped
	}
	if err := d.email.SendEmail(ctx, r.Email, rendered.Title, rendered.Body); err != nil {
		telemetry.RecordNotification("email", Failed)
		log.Warn().Err(err).Msg("email notification failed")
		return Failed
	}
	telemetry.RecordNotification("email", Sent)
	return Sent
}
