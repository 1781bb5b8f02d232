package server

import (
	"encoding/json"
	"time"

	"github.com/JediahDizon/project-naa/internal/domain"
)

type SetStatusRequest struct {
	Status  string `json:"status" doc:"Status name (pending, success, failure, warning, cancelled, hold, deleted) or number"`
	Message string `json:"message,omitempty"`
}

type SchemaResponse struct {
	Version int      `json:"version"`
	Tables  []string `json:"tables"`
}

type MeResponse struct {
	Subject       string   `json:"subject,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Authenticated bool     `json:"authenticated"`
}

// LogResponse is a changelog entry with its status spelled out and its
// payload inlined as JSON.
type LogResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TableName string    `json:"tableName"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data"`
	Errors    []string  `json:"errors"`
}

func logResponse(l domain.Log) LogResponse {
	var data any
	if len(l.Data) > 0 {
		_ = json.Unmarshal(l.Data, &data)
	}
	errs := l.Errors
	if errs == nil {
		errs = []string{}
	}
	return LogResponse{
		ID:        l.ID,
		Timestamp: l.Timestamp,
		TableName: l.TableName,
		Status:    l.Status.String(),
		Message:   l.Message,
		Data:      data,
		Errors:    errs,
	}
}

func mapLogs(logs []domain.Log) []LogResponse {
	out := make([]LogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse(l))
	}
	return out
}
