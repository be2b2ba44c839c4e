package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/korulabs/lead-engine/internal/infra/queue"

	"go.uber.org/zap"
)

// RegisterJobHandlers binds the async job names emitted by the services to
// the executor. Must run before the queue starts.
func RegisterJobHandlers(q *queue.Queue, executor *Executor, logger *zap.Logger) {
	q.Register("notification.send", func(ctx context.Context, payload map[string]any) error {
		channel, _ := payload["channel"].(string)
		if channel == "" {
			channel = "sales"
		}
		message, _ := payload["message"].(string)
		if message == "" {
			message = formatNotification(payload)
		}
		return executor.Notify(ctx, channel, message)
	})

	q.Register("moco.sync", func(ctx context.Context, payload map[string]any) error {
		leadID, _ := payload["lead_id"].(string)
		dealID, _ := payload["deal_id"].(string)
		entityType, _ := payload["entity_type"].(string)
		if leadID == "" {
			logger.Warn("moco.sync job without lead_id")
			return nil
		}
		return executor.SyncMoco(ctx, leadID, dealID, entityType)
	})

	q.Register("mail.send", func(ctx context.Context, payload map[string]any) error {
		leadID, _ := payload["lead_id"].(string)
		subject, _ := payload["subject"].(string)
		body, _ := payload["body"].(string)
		_, err := executor.SendTemplatedMail(ctx, leadID, subject, body)
		return err
	})
}

// formatNotification renders a structured payload into a readable line for
// payloads that carry no pre-rendered message.
func formatNotification(payload map[string]any) string {
	kind, _ := payload["kind"].(string)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "kind" || k == "channel" || k == "message" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	if kind == "" {
		kind = "notification"
	}
	return fmt.Sprintf("[%s] %s", kind, strings.Join(parts, " "))
}
