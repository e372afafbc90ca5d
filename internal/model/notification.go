package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field limits, counted in characters.
const (
	MaxTitleLength   = 200
	MaxMessageLength = 1000
)

// Kind 通知类型，线上编码为整数
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

// ParseKind decodes a wire code. Unknown codes are rejected.
func ParseKind(code int) (Kind, error) {
	k := Kind(code)
	switch k {
	case KindInfo, KindSuccess, KindWarning, KindError:
		return k, nil
	}
	return 0, fmt.Errorf("unknown notification type %d", code)
}

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindSuccess:
		return "success"
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TargetScope records how a notification was addressed. It does not change
// delivery.
type TargetScope int

const (
	TargetSingle TargetScope = iota
	TargetMultiple
	TargetAll
)

// ParseTargetScope decodes a wire code. Unknown codes are rejected.
func ParseTargetScope(code int) (TargetScope, error) {
	t := TargetScope(code)
	switch t {
	case TargetSingle, TargetMultiple, TargetAll:
		return t, nil
	}
	return 0, fmt.Errorf("unknown target type %d", code)
}

func (t TargetScope) String() string {
	switch t {
	case TargetSingle:
		return "single"
	case TargetMultiple:
		return "multiple"
	case TargetAll:
		return "all"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Notification is one message to exactly one recipient.
type Notification struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Title      string
	Message    string
	Type       Kind
	IsRead     bool
	CreatedAt  time.Time
	TargetType TargetScope
}

// NotificationPage 分页结果
type NotificationPage struct {
	Notifications []Notification
	TotalCount    int64
	Page          int
	PageSize      int
}
