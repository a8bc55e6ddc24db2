// Package notify composes audience-targeted messages for student events and
// delivers them, either immediately or through the durable queue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/billing"
	"studyroom/internal/messaging"
	"studyroom/internal/metrics"
	"studyroom/internal/org"
	"studyroom/internal/template"
)

// Directory resolves the organization and student an event refers to.
type Directory interface {
	Organization(ctx context.Context, id string) (org.Organization, error)
	Student(ctx context.Context, orgID, id string) (org.Student, error)
}

// Event is a request to notify about something that happened to a student.
type Event struct {
	OrgID     string
	StudentID string
	Type      template.EventType
	Vars      template.Vars
	// Audience overrides the organization setting when non-empty.
	Audience template.Audience
}

// Summary lists the delivery records of one dispatch, one per audience.
type Summary struct {
	Records []Record
}

// Sent counts audiences that received the message.
func (s Summary) Sent() int {
	n := 0
	for _, r := range s.Records {
		if r.Status == StatusSent {
			n++
		}
	}
	return n
}

// Retryable reports whether nothing was delivered and at least one
// audience failed at the provider. Such a dispatch can be repeated without
// duplicating a message.
func (s Summary) Retryable() bool {
	failed := false
	for _, r := range s.Records {
		switch r.Status {
		case StatusSent:
			return false
		case StatusFailed:
			if r.Error != errInsufficient {
				failed = true
			}
		}
	}
	return failed
}

const errInsufficient = "insufficient message credits"

// Dispatcher is the immediate delivery path.
type Dispatcher struct {
	dir      Directory
	resolver *template.Resolver
	alimtalk messaging.Sender
	email    messaging.Sender
	monitor  messaging.Monitor
	ledger   billing.Ledger
	records  RecordStore
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// Options wires a Dispatcher. Nil senders disable that channel; a nil
// ledger means messages are free.
type Options struct {
	Directory Directory
	Resolver  *template.Resolver
	Alimtalk  messaging.Sender
	Email     messaging.Sender
	Monitor   messaging.Monitor
	Ledger    billing.Ledger
	Records   RecordStore
	Timeout   time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewDispatcher(o Options) *Dispatcher {
	if o.Ledger == nil {
		o.Ledger = billing.Free{}
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Dispatcher{
		dir:      o.Directory,
		resolver: o.Resolver,
		alimtalk: o.Alimtalk,
		email:    o.Email,
		monitor:  o.Monitor,
		ledger:   o.Ledger,
		records:  o.Records,
		timeout:  o.Timeout,
		log:      o.Logger,
		now:      o.Now,
	}
}

// Dispatch renders and delivers ev to every target audience. Delivery
// failures are recorded per audience and never returned; the error is
// only for an event whose organization or student cannot be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Summary, error) {
	o, err := d.dir.Organization(ctx, ev.OrgID)
	if err != nil {
		return Summary{}, fmt.Errorf("load organization: %w", err)
	}
	st, err := d.dir.Student(ctx, ev.OrgID, ev.StudentID)
	if err != nil {
		return Summary{}, fmt.Errorf("load student: %w", err)
	}

	audience := ev.Audience
	if audience == "" {
		audience = o.Settings.AudienceFor(ev.Type)
	}

	var sum Summary
	for _, a := range audience.Targets() {
		rec := d.deliver(ctx, o, st, ev, a)
		sum.Records = append(sum.Records, rec)
	}
	return sum, nil
}

func (d *Dispatcher) deliver(ctx context.Context, o org.Organization, st org.Student, ev Event, a template.Audience) Record {
	vars := make(template.Vars, len(ev.Vars)+2)
	maps.Copy(vars, ev.Vars)
	if _, ok := vars[template.VarOrgName]; !ok {
		vars[template.VarOrgName] = o.Name
	}
	if _, ok := vars[template.VarStudentName]; !ok {
		vars[template.VarStudentName] = st.Name
	}

	text := template.Render(d.resolver.Resolve(ctx, o.ID, ev.Type, a), vars)
	rec := Record{
		ID:        uuid.NewString(),
		OrgID:     o.ID,
		StudentID: st.ID,
		EventType: string(ev.Type),
		Audience:  string(a),
		Message:   text,
		CreatedAt: d.now(),
	}

	log := d.log.With(
		slog.String("org_id", o.ID),
		slog.String("student_id", st.ID),
		slog.String("event_type", string(ev.Type)),
		slog.String("audience", string(a)),
	)

	contact := st.ContactFor(a)
	channel, sender := d.route(contact)
	rec.Channel = string(channel)
	switch channel {
	case messaging.ChannelAlimtalk:
		rec.Recipient = contact.Phone
	case messaging.ChannelEmail:
		rec.Recipient = contact.Email
	}

	if channel == messaging.ChannelNone {
		rec.Status = StatusSkipped
		rec.Error = "no contact for audience"
	} else {
		d.send(ctx, log, sender, o, st, ev, vars, &rec)
	}

	if err := d.records.SaveRecord(ctx, rec); err != nil {
		log.ErrorContext(ctx, "save notification record failed", slog.Any("error", err))
	}
	metrics.Notifications.WithLabelValues(rec.EventType, rec.Channel, rec.Status).Inc()

	if rec.Status == StatusSent && o.Settings.Monitoring() && d.monitor != nil {
		if err := d.monitor.Mirror(ctx, MonitorText(ev.Type, a, st.Name, text)); err != nil {
			if errors.Is(err, messaging.ErrNotConfigured) {
				log.DebugContext(ctx, "monitoring channel not configured")
			} else {
				log.WarnContext(ctx, "monitoring mirror failed", slog.Any("error", err))
			}
		}
	}
	return rec
}

func (d *Dispatcher) route(c org.Contact) (messaging.Channel, messaging.Sender) {
	switch {
	case c.Phone != "" && d.alimtalk != nil:
		return messaging.ChannelAlimtalk, d.alimtalk
	case c.Email != "" && d.email != nil:
		return messaging.ChannelEmail, d.email
	default:
		return messaging.ChannelNone, nil
	}
}

func (d *Dispatcher) send(ctx context.Context, log *slog.Logger, sender messaging.Sender, o org.Organization, st org.Student, ev Event, vars template.Vars, rec *Record) {
	desc := fmt.Sprintf("%s: %s (%s)", ev.Type, st.Name, rec.Audience)
	charge, err := d.ledger.Charge(ctx, o.ID, rec.Channel, desc)
	if err != nil {
		rec.Status = StatusFailed
		if errors.Is(err, billing.ErrInsufficientCredits) {
			rec.Error = errInsufficient
			log.WarnContext(ctx, "insufficient credits, message not sent")
		} else {
			rec.Error = err.Error()
			log.ErrorContext(ctx, "credit charge failed", slog.Any("error", err))
		}
		return
	}
	rec.Price, rec.Cost = charge.Price, charge.Cost

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()
	res, err := sender.Send(sendCtx, messaging.Message{
		Event:     string(ev.Type),
		To:        rec.Recipient,
		Subject:   fmt.Sprintf("[%s] %s", o.Name, st.Name),
		Text:      rec.Message,
		Variables: vars,
	})
	metrics.ProviderLatency.WithLabelValues(rec.Channel).Observe(time.Since(start).Seconds())
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		log.WarnContext(ctx, "provider send failed", slog.String("channel", rec.Channel), slog.Any("error", err))
		if rerr := d.ledger.Refund(ctx, o.ID, charge, "refund "+desc); rerr != nil {
			log.ErrorContext(ctx, "credit refund failed", slog.Any("error", rerr))
		}
		rec.Price, rec.Cost = 0, 0
		return
	}
	rec.Status = StatusSent
	log.InfoContext(ctx, "notification sent", slog.String("channel", rec.Channel), slog.String("message_id", res.MessageID))
}

// Notify dispatches ev and logs the outcome. It never fails: this is the
// entry point for best-effort notifications after a committed write.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) Summary {
	sum, err := d.Dispatch(ctx, ev)
	if err != nil {
		d.log.ErrorContext(ctx, "notification dispatch failed",
			slog.String("org_id", ev.OrgID),
			slog.String("student_id", ev.StudentID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("error", err))
	}
	return sum
}
