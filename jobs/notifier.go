package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/repost"
)

// RepostFailureSubject is the subject of repost failure notifications.
const RepostFailureSubject = "Error while reposting item valuation"

// MailNotifier emails repost failures to the members of a role.
type MailNotifier struct {
	enqueuer   TaskEnqueuer
	role       string
	recipients []string
}

// NewMailNotifier constructs a notifier sending to recipients, the addresses
// holding role.
func NewMailNotifier(enqueuer TaskEnqueuer, role string, recipients []string) *MailNotifier {
	var to []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &MailNotifier{enqueuer: enqueuer, role: role, recipients: to}
}

// NotifyFailure enqueues the failure mail.
func (n *MailNotifier) NotifyFailure(ctx context.Context, job repost.Job) error {
	if n == nil || len(n.recipients) == 0 {
		return nil
	}
	task, err := NewSendEmailTask(SendEmailPayload{
		To:      n.recipients,
		Subject: RepostFailureSubject,
		Body:    failureBody(n.role, job),
	})
	if err != nil {
		return err
	}
	if _, err := n.enqueuer.EnqueueContext(ctx, task, asynq.TaskID("repost-failure:"+job.ID)); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("jobs: enqueue repost failure mail: %w", err)
	}
	return nil
}

func failureBody(role string, job repost.Job) string {
	var b strings.Builder
	if role != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", role)
	}
	b.WriteString("An error occurred while reposting item valuation.\n\n")
	fmt.Fprintf(&b, "Job: %s\n", job.ID)
	fmt.Fprintf(&b, "Based on: %s\n", job.BasedOn)
	if !job.Voucher.IsZero() {
		fmt.Fprintf(&b, "Voucher: %s\n", job.Voucher)
	}
	if job.ItemCode != "" {
		fmt.Fprintf(&b, "Item: %s\nWarehouse: %s\n", job.ItemCode, job.Warehouse)
	}
	fmt.Fprintf(&b, "Posting date: %s\n", job.PostedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\nError log:\n%s\n", job.ErrorLog)
	return b.String()
}

var _ repost.Notifier = (*MailNotifier)(nil)
