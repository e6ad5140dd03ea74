package session

import (
	"errors"

	"github.com/mmeshcher/cashdrawer/internal/model"
)

// FallbackAction определяет, как поступить с локальными флагами, если удалённое хранилище недоступно.
type FallbackAction int

const (
	// KeepLocalOptimistic обновляет локальные флаги так, будто удалённый вызов удался.
	KeepLocalOptimistic FallbackAction = iota
	// FollowRemote оставляет локальные флаги без изменений.
	FollowRemote
)

func (a FallbackAction) String() string {
	switch a {
	case KeepLocalOptimistic:
		return "keep-local-optimistic"
	case FollowRemote:
		return "follow-remote"
	default:
		return "unknown"
	}
}

// FallbackPolicy задаёт приоритет источников: удалённое хранилище главнее, пока доступно,
// а локальные флаги носят рекомендательный характер.
type FallbackPolicy struct {
	OnOpenFailure  FallbackAction
	OnCloseFailure FallbackAction
}

// DefaultFallbackPolicy отдаёт предпочтение непрерывной работе кассы.
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		OnOpenFailure:  KeepLocalOptimistic,
		OnCloseFailure: KeepLocalOptimistic,
	}
}

// isTransient отделяет сбои доставки от отказов по существу: на последние политика не распространяется.
func isTransient(err error) bool {
	return !errors.Is(err, model.ErrSessionExists) &&
		!errors.Is(err, model.ErrSessionNotFound) &&
		!errors.Is(err, model.ErrSessionClosed)
}
