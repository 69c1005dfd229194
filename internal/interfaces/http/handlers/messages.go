package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"repo-source-web/internal/application"
	"repo-source-web/internal/domain/services"
)

// stateMsg is the wire form of a session's selection state.
type stateMsg struct {
	SessionID     string   `json:"session_id"`
	Phase         string   `json:"phase"`
	Generation    uint64   `json:"generation"`
	Loading       bool     `json:"loading"`
	ActivePath    string   `json:"active_path,omitempty"`
	ActiveContent string   `json:"active_content,omitempty"`
	Expanded      []string `json:"expanded"`
	Error         string   `json:"error,omitempty"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	ErrorPath     string   `json:"error_path,omitempty"`
}

func newStateMsg(sessionID string, s services.State) stateMsg {
	msg := stateMsg{
		SessionID:     sessionID,
		Phase:         s.Phase.String(),
		Generation:    s.Generation,
		Loading:       s.IsLoading(),
		ActivePath:    s.ActivePath,
		ActiveContent: s.ActiveContent,
		Expanded:      []string{},
	}
	for id, open := range s.Expanded {
		if open {
			msg.Expanded = append(msg.Expanded, id)
		}
	}
	slices.Sort(msg.Expanded)

	if s.Err != nil {
		msg.Error = s.Err.Error()
		var buildErr *services.BuildError
		if errors.As(s.Err, &buildErr) {
			msg.ErrorKind = buildErr.Kind.String()
			msg.ErrorPath = buildErr.Path
		}
	}
	return msg
}

// statusForError 将领域错误映射为 HTTP 状态码
func statusForError(err error) int {
	var buildErr *services.BuildError
	switch {
	case errors.Is(err, application.ErrSessionNotFound),
		errors.Is(err, services.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotAFile),
		errors.Is(err, services.ErrNotADirectory):
		return http.StatusBadRequest
	case errors.As(err, &buildErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
