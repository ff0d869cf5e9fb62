// Package notify delivers best-effort chat notifications about items.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/logger"
)

// FailureNotice is sent when an item could not be processed.
const FailureNotice = "Sorry, I couldn't process that link. It's saved, and you can retry it later."

// Notifier sends text to a chat.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Nop discards notifications.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, int64, string) error { return nil }

// BestEffort dispatches notifications in the background. Send never blocks
// the caller and failures are logged, never returned.
type BestEffort struct {
	notifier Notifier
	timeout  time.Duration
	log      logger.Logger
	wg       sync.WaitGroup
}

// NewBestEffort wraps n. Each delivery gets its own timeout.
func NewBestEffort(n Notifier, timeout time.Duration, log logger.Logger) *BestEffort {
	if n == nil {
		n = Nop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BestEffort{notifier: n, timeout: timeout, log: log}
}

// Notify queues text for chatID. The caller's context only contributes its
// values; cancellation of the caller does not cancel delivery.
func (b *BestEffort) Notify(ctx context.Context, chatID int64, text string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		if err := b.notifier.Send(sendCtx, chatID, text); err != nil {
			b.log.Warn("notification failed", logger.Int64("chat_id", chatID), logger.Error(err))
		}
	}()
}

// Wait blocks until every queued notification has finished.
func (b *BestEffort) Wait() {
	b.wg.Wait()
}

// ProcessedMessage summarizes a processed item for the user.
func ProcessedMessage(it *item.Item, containers []string) string {
	title := item.Text(it.Title)
	if title == "" {
		return fmt.Sprintf("Saved %s. I couldn't work out what it's about, but it's in your library.", it.SourceURL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Saved: %s", title)
	if s := item.Text(it.Summary); s != "" {
		fmt.Fprintf(&b, "\n\n%s", s)
	}
	if len(it.Entities.Repos) > 0 {
		fmt.Fprintf(&b, "\n\nRepos: %s", strings.Join(it.Entities.Repos, ", "))
	}
	if len(containers) > 0 {
		fmt.Fprintf(&b, "\nFiled in: %s", strings.Join(containers, ", "))
	}
	return b.String()
}

// GatedMessage tells the user a link needs a login to read.
func GatedMessage(title string) string {
	return fmt.Sprintf("Saved %s. The content needs a login, so I couldn't read it.", title)
}
