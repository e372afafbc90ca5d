package mq

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"notifyhub/internal/model"
)

// BatchNotificationEvent 批量通知事件的 payload（线上格式）
type BatchNotificationEvent struct {
	UserIDs    []string `json:"userIds"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Type       int      `json:"type"`
	TargetType int      `json:"targetType"`
}

// BatchNotification is the decoded event. Raw codes do not travel past Decode.
type BatchNotification struct {
	UserIDs    []uuid.UUID
	Title      string
	Message    string
	Type       model.Kind
	TargetType model.TargetScope
}

// Decode parses a payload and converts ids and codes into domain types.
// An empty userIds list decodes successfully; rejecting it is up to the
// caller.
func Decode(data []byte) (BatchNotification, error) {
	var ev BatchNotificationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return BatchNotification{}, fmt.Errorf("invalid batch notification payload: %w", err)
	}
	return ev.ToDomain()
}

// ToDomain validates ids and enum codes.
func (ev BatchNotificationEvent) ToDomain() (BatchNotification, error) {
	kind, err := model.ParseKind(ev.Type)
	if err != nil {
		return BatchNotification{}, err
	}
	target, err := model.ParseTargetScope(ev.TargetType)
	if err != nil {
		return BatchNotification{}, err
	}

	ids := make([]uuid.UUID, 0, len(ev.UserIDs))
	for i, raw := range ev.UserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return BatchNotification{}, fmt.Errorf("userIds[%d]: %w", i, err)
		}
		ids = append(ids, id)
	}

	return BatchNotification{
		UserIDs:    ids,
		Title:      ev.Title,
		Message:    ev.Message,
		Type:       kind,
		TargetType: target,
	}, nil
}

// Encode renders a decoded event back to its wire shape.
func Encode(n BatchNotification) BatchNotificationEvent {
	ids := make([]string, 0, len(n.UserIDs))
	for _, id := range n.UserIDs {
		ids = append(ids, id.String())
	}
	return BatchNotificationEvent{
		UserIDs:    ids,
		Title:      n.Title,
		Message:    n.Message,
		Type:       int(n.Type),
		TargetType: int(n.TargetType),
	}
}
