package controllers

import "github.com/datallboy/gonzbd/internal/app"

// OpResponse reports the outcome of any queue mutation: success plus,
// on failure, a reason. Mutations never partially apply.
type OpResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	ID     int64  `json:"id,omitempty"`
}

type QueueResponse struct {
	OK     bool             `json:"ok"`
	Paused bool             `json:"paused"`
	Queue  []app.QueueEntry `json:"queue"`
}

type HistoryResponse struct {
	OK     bool        `json:"ok"`
	Events []app.Event `json:"events"`
}
