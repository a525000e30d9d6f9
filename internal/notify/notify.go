// Package notify pushes alerts and reports to a DingTalk group robot.
package notify

import "context"

// Notifier is the push-notification collaborator contract. Implementations
// never fail the calling workflow: delivery errors are logged and returned
// for the caller to count, not to abort on.
type Notifier interface {
	// SendText sends a plain text message.
	SendText(ctx context.Context, msg string) error

	// SendMarkdown sends a markdown message with a title.
	SendMarkdown(ctx context.Context, title, text string) error
}

// Nop is a Notifier that discards everything. Used when no robot is
// configured.
type Nop struct{}

func (Nop) SendText(context.Context, string) error             { return nil }
func (Nop) SendMarkdown(context.Context, string, string) error { return nil }
