// Package pricewatch emails a notification when a tracked listing's
// asking price drops. Delivery is best-effort: a failed send is logged
// and recorded on the span, never surfaced to the reconciliation pass
// that noticed the drop.
package pricewatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/pricewatch")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"emailAddress"`
	Password     string `json:"password"`
}

type Options struct {
	Smtp      SmtpConfig
	Recipient string
}

type Watcher struct {
	config Options
}

func NewWatcher(options Options) *Watcher {
	return &Watcher{config: options}
}

func (w *Watcher) Enabled() bool {
	return w.config.Smtp.Server != "" && w.config.Recipient != ""
}

// PriceDropped sends the drop notification. Satisfies the overlay
// session's alerter.
func (w *Watcher) PriceDropped(ctx context.Context, address, href, previous, current string) {
	ctx, span := tracer.Start(ctx, "PriceDropped")
	defer span.End()
	span.SetAttributes(
		attribute.String("address", address),
		attribute.String("previous", previous),
		attribute.String("current", current),
	)

	if !w.Enabled() {
		return
	}

	err := w.send(address, href, previous, current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send price drop email")
		slog.ErrorContext(ctx, "failed to send price drop email",
			"address", address, "err", err)
	}
}

func (w *Watcher) send(address, href, previous, current string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Daft Watch <%s>", w.config.Smtp.EmailAddress)
	mail.To = []string{w.config.Recipient}
	mail.Subject = fmt.Sprintf("Price drop: %s", address)

	body := fmt.Sprintf(`The asking price for the following listing just dropped.

%s
%s

Previous price: %s
Current price:  %s`, address, href, previous, current)
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", w.config.Smtp.Server, w.config.Smtp.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", w.config.Smtp.EmailAddress, w.config.Smtp.Password, w.config.Smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}
