package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/credex/internal/domain"
)

func messageFields(msg domain.Message) (map[string]string, error) {
	fields := map[string]string{
		"from":       msg.From,
		"to":         msg.To,
		"kind":       string(msg.Kind),
		"title":      msg.Title,
		"body":       msg.Body,
		"created_ms": strconv.FormatInt(msg.CreatedAt.UnixMilli(), 10),
	}
	if len(msg.Metadata) > 0 {
		meta, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		fields["metadata"] = string(meta)
	}
	return fields, nil
}

func parseMessage(id string, fields map[string]string) domain.Message {
	msg := domain.Message{
		ID:    id,
		From:  fields["from"],
		To:    fields["to"],
		Kind:  domain.MessageKind(fields["kind"]),
		Title: fields["title"],
		Body:  fields["body"],
	}
	if ms, err := strconv.ParseInt(fields["created_ms"], 10, 64); err == nil {
		msg.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if raw := fields["metadata"]; raw != "" {
		// Unparsable metadata degrades to nil rather than failing the poll.
		_ = json.Unmarshal([]byte(raw), &msg.Metadata)
	}
	return msg
}
