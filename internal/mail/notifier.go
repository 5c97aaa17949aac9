package mail

import (
	"context"
	"sync"
	"time"

	"contacts-api/internal/observability"
)

const sendTimeout = 30 * time.Second

type Observer interface {
	ObserveEmail(template string, err error)
}

// Notifier renders account emails and hands them to the sender on a tracked
// goroutine. Delivery failures are logged and counted, never returned.
type Notifier struct {
	sender   Sender
	logger   *observability.Logger
	observer Observer

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotifier(sender Sender, logger *observability.Logger, observer Observer) *Notifier {
	return &Notifier{sender: sender, logger: logger, observer: observer}
}

func (n *Notifier) SendConfirmation(ctx context.Context, email, username, baseURL, token string) {
	n.dispatch(ctx, TemplateConfirmEmail, email, "Підтвердження електронної пошти", confirmData{
		Username: username,
		Link:     confirmationLink(baseURL, token),
	})
}

func (n *Notifier) SendPasswordReset(ctx context.Context, email, baseURL, token string) {
	n.dispatch(ctx, TemplateResetPassword, email, "Скидання пароля", resetData{
		Email: email,
		Token: token,
		Link:  resetLink(baseURL),
	})
}

// Close stops accepting new emails and waits for in-flight sends.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) dispatch(ctx context.Context, name, to, subject string, data any) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.logger.Warn("email_dropped", map[string]any{"template": name, "reason": "notifier closed"})
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	// The request that triggered the email is usually finished before the
	// send, so only its values are kept.
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer n.wg.Done()

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		err := n.send(sendCtx, name, to, subject, data)
		if n.observer != nil {
			n.observer.ObserveEmail(name, err)
		}
		if err != nil {
			n.logger.Error("email_send_failed", map[string]any{
				"template":   name,
				"error":      err.Error(),
				"request_id": observability.RequestIDFromContext(ctx),
			})
			return
		}
		n.logger.Info("email_sent", map[string]any{
			"template":   name,
			"request_id": observability.RequestIDFromContext(ctx),
		})
	}()
}

func (n *Notifier) send(ctx context.Context, name, to, subject string, data any) error {
	html, err := render(name, data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{To: to, Subject: subject, HTML: html})
}
