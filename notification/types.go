/*
Package notification tracks outbound notifications that failed to deliver.

PURPOSE:
  State transitions commit first and notify afterwards. A notification that
  cannot be delivered never rolls a transition back: it is recorded as a
  FailedDelivery so an operator can follow up offline or resend it later.

KEY CONCEPTS:
  Message:        What to send, to whom, rendered from a template + snapshot
  FailedDelivery: A recorded failure with a denormalized recipient snapshot
  Sender:         Delivers one message (email transport is external)
  Ledger:         Records failures, lists/clears them, resends a chosen subset
  AsyncDispatcher: Worker queue so callers never wait on delivery

RESEND:
  Resend only touches the candidates passed in. A candidate that sends
  successfully is removed from the ledger; one that fails again stays, with
  its error and attempt count updated. Deleting a record without resending
  is an explicit operator action (ClearFailure).

SEE ALSO:
  - ledger.go: Ledger
  - dispatcher.go: AsyncDispatcher, LogSender
*/
package notification

import (
	"context"
	"fmt"
	"time"
)

// Template names the kind of message, so a resend can regenerate it.
type Template string

const (
	TemplateRegistrationConfirmation Template = "registration_confirmation"
	TemplatePaymentReceipt           Template = "payment_receipt"
	TemplateRegistrationReviewed     Template = "registration_reviewed"
	TemplateFundRequestUpdate        Template = "fund_request_update"
)

// Message is one outbound notification.
type Message struct {
	To       string
	Region   string
	Template Template
	Data     map[string]string // recipient snapshot: name, district, uniqueId, amounts...
}

// Subject renders a one-line subject from the template and snapshot.
func (m Message) Subject() string {
	switch m.Template {
	case TemplateRegistrationConfirmation:
		return fmt.Sprintf("Registration received: %s", m.Data["uniqueId"])
	case TemplatePaymentReceipt:
		return fmt.Sprintf("Payment of %s received for %s", m.Data["amount"], m.Data["uniqueId"])
	case TemplateRegistrationReviewed:
		return fmt.Sprintf("Registration %s is %s", m.Data["uniqueId"], m.Data["status"])
	case TemplateFundRequestUpdate:
		return fmt.Sprintf("Fund request %q is %s", m.Data["title"], m.Data["status"])
	}
	return string(m.Template)
}

// FailedDelivery is a notification attempt that did not complete.
type FailedDelivery struct {
	ID             string
	RecipientEmail string
	Region         string
	Template       Template
	Snapshot       map[string]string
	Error          string
	Attempts       int
	CreatedAt      time.Time
	LastAttemptAt  time.Time
}

// Message rebuilds the message that failed.
func (f FailedDelivery) Message() Message {
	return Message{
		To:       f.RecipientEmail,
		Region:   f.Region,
		Template: f.Template,
		Data:     f.Snapshot,
	}
}

// Filter selects failures. An empty Region matches every region.
type Filter struct {
	Region string
}

func (f Filter) Matches(d FailedDelivery) bool {
	return f.Region == "" || d.Region == f.Region
}

// Store persists failed deliveries.
type Store interface {
	CreateFailure(ctx context.Context, f FailedDelivery) error
	GetFailure(ctx context.Context, id string) (FailedDelivery, error)
	// ListFailures returns matching failures, newest first.
	ListFailures(ctx context.Context, filter Filter) ([]FailedDelivery, error)
	UpdateFailure(ctx context.Context, f FailedDelivery) error
	DeleteFailure(ctx context.Context, id string) error
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Notifier is the fire-and-forget side used by the workflow services.
// Implementations record their own failures; Notify never reports them.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Message) {}
