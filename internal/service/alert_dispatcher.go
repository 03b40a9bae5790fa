package service

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"

	"github.com/rs/zerolog"
)

// SMTPAlertChannel implements ports.AlertChannel by emailing recipients,
// the default pluggable channel per spec.md §4.8. Grounded on the
// teacher's audit_service.go fire-and-forget goroutine shape; no mail
// library appears anywhere in the pack, so this uses stdlib net/smtp.
type SMTPAlertChannel struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
}

// NewSMTPAlertChannel creates an SMTPAlertChannel.
func NewSMTPAlertChannel(host string, port int, username, password, from string, recipients []string) *SMTPAlertChannel {
	return &SMTPAlertChannel{host: host, port: port, username: username, password: password, from: from, recipients: recipients}
}

// Send emails subject/message to every configured recipient. Blocking:
// callers that need fire-and-forget semantics use AlertDispatcher, which
// wraps this in a goroutine.
func (c *SMTPAlertChannel) Send(_ context.Context, subject, message string) error {
	if len(c.recipients) == 0 {
		return nil
	}
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		c.from, strings.Join(c.recipients, ", "), subject, message)

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	if err := smtp.SendMail(addr, auth, c.from, c.recipients, []byte(body)); err != nil {
		return fmt.Errorf("sending alert email: %w", err)
	}
	return nil
}

// AlertDispatcher implements spec.md §4.8's contract on top of a
// pluggable ports.AlertChannel. Dispatch is fire-and-forget: Send's error
// is logged, never returned to the caller, mirroring audit_service.go's
// Log.
type AlertDispatcher struct {
	channel  ports.AlertChannel
	dispatch func(func())
	log      zerolog.Logger
}

// NewAlertDispatcher creates an AlertDispatcher over channel. Dispatch runs
// on a bare goroutine per call until WithDispatcher bounds it with a pool.
func NewAlertDispatcher(channel ports.AlertChannel, log zerolog.Logger) *AlertDispatcher {
	return &AlertDispatcher{channel: channel, log: log}
}

// WithDispatcher routes SendAlert/SendTransactionAlert/etc through submit
// instead of spawning a bare goroutine per call, bounding alert fan-out
// under load. Unset, dispatch spawns a goroutine directly as before.
func (d *AlertDispatcher) WithDispatcher(submit func(func())) *AlertDispatcher {
	d.dispatch = submit
	return d
}

// SendAlert dispatches a freeform subject/message pair.
func (d *AlertDispatcher) SendAlert(ctx context.Context, subject, message string) {
	d.dispatchAlert(ctx, subject, message)
}

// SendTransactionAlert reports an anomalous or problematic transaction.
func (d *AlertDispatcher) SendTransactionAlert(ctx context.Context, txn *domain.Transaction, reason string) {
	subject := fmt.Sprintf("[txrelay] transaction alert: %s", txn.ID)
	message := fmt.Sprintf(
		"Transaction %s (origin=%s, status=%s, attempts=%d) triggered an alert.\nReason: %s",
		txn.ID, txn.OriginSystem, txn.Status, txn.AttemptCount, reason,
	)
	d.dispatchAlert(ctx, subject, message)
}

// SendSystemHealthAlert reports aggregate reconciliation/anomaly metrics
// from a monitor sweep.
func (d *AlertDispatcher) SendSystemHealthAlert(ctx context.Context, summary ReconciliationSummary, anomalyCount int) {
	subject := "[txrelay] system health report"
	message := fmt.Sprintf(
		"Reconciliation pass at %s: processed=%d reconciled=%d manual_intervention_required=%d anomalies=%d",
		time.Now().UTC().Format(time.RFC3339), summary.Processed, summary.Reconciled, summary.ManualInterventionRequired, anomalyCount,
	)
	d.dispatchAlert(ctx, subject, message)
}

// SendCriticalErrorAlert reports an unrecoverable error encountered by a
// background worker, along with free-form context.
func (d *AlertDispatcher) SendCriticalErrorAlert(ctx context.Context, err error, details map[string]any) {
	subject := "[txrelay] critical error"
	message := fmt.Sprintf("%v\ndetails: %v", err, details)
	d.dispatchAlert(ctx, subject, message)
}

// dispatchAlert ignores ctx deliberately: an alert must outlive the
// request that triggered it, so the actual send runs on its own
// background context rather than one the caller might cancel.
func (d *AlertDispatcher) dispatchAlert(_ context.Context, subject, message string) {
	send := func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.channel.Send(sendCtx, subject, message); err != nil {
			d.log.Error().Err(err).Str("subject", subject).Msg("alert dispatch failed")
			return
		}
		d.log.Info().Str("subject", subject).Msg("alert dispatched")
	}
	if d.dispatch != nil {
		d.dispatch(send)
		return
	}
	go send()
}
