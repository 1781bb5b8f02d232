package domain

import (
	"encoding/json"
	"time"
)

// Document is a free-form nested JSON object carried by an entity.
type Document map[string]any

// List is a free-form nested JSON array carried by an entity.
type List []any

// Table names as persisted.
const (
	TableProject        = "Project"
	TableTask           = "Task"
	TableFile           = "File"
	TableFormFiles      = "FormFiles"
	TableImage          = "Image"
	TableFormDefinition = "FormDefinition"
	TableFormValues     = "FormValues"
	TableLog            = "Log"
	TableTranslation    = "Translation"
	TableSync           = "Sync"
)

// File is the sub-record embedded in projects, tasks and form values.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Prop        string `json:"prop,omitempty"`
	Size        int64  `json:"size,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	URI         string `json:"uri,omitempty"`
	BinaryFile  string `json:"binaryFile,omitempty"`
}

type TaskRef struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
}

type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	AssignedTo   string    `json:"assignedTo,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	CreationDate string    `json:"creationDate,omitempty"`
	Files        []File    `json:"files"`
	Tasks        []TaskRef `json:"tasks"`
	Alerts       List      `json:"alerts"`
	Attachments  List      `json:"attachments"`
}

// TaskIDs returns the ids of the project's task references in order.
func (p Project) TaskIDs() []string {
	ids := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

type Task struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name,omitempty"`
	Type                   string   `json:"type,omitempty"`
	Key                    string   `json:"key,omitempty"`
	ActivityID             string   `json:"activityId,omitempty"`
	ActivityType           string   `json:"activityType,omitempty"`
	AssetID                string   `json:"assetId,omitempty"`
	AssignedByUserID       string   `json:"assignedByUserId,omitempty"`
	AssignedUserID         string   `json:"assignedUserId,omitempty"`
	AssignedTo             string   `json:"assignedTo,omitempty"`
	BPMStatus              string   `json:"bpmStatus,omitempty"`
	Status                 string   `json:"status,omitempty"`
	Priority               string   `json:"priority,omitempty"`
	Progress               string   `json:"progress,omitempty"`
	DeadLine               string   `json:"deadLine,omitempty"`
	Datum                  string   `json:"datum,omitempty"`
	Jurisdiction           string   `json:"jurisdiction,omitempty"`
	RegulatoryAgency       string   `json:"regulatoryAgency,omitempty"`
	RegulatoryID           string   `json:"regulatoryId,omitempty"`
	Overview               string   `json:"overview,omitempty"`
	CanClose               *bool    `json:"canClose,omitempty"`
	Files                  []File   `json:"files"`
	Form                   Document `json:"form"`
	TaskDDS                Document `json:"taskDDS"`
	Schema                 Document `json:"schema"`
	Well                   Document `json:"well"`
	CustomTypes            Document `json:"customTypes"`
	NamedConditions        Document `json:"namedConditions"`
	ProcessCommonData      Document `json:"processCommonData"`
	UIDefinition           Document `json:"uiDefinition"`
	ExtraDetails           Document `json:"extraDetailsJson"`
	PhotoTypes             List     `json:"photoTypes"`
	ProcessTypes           List     `json:"processTypes"`
	ProgressUpdateComments List     `json:"progressUpdateComments"`
	TaskProjectAlerts      List     `json:"taskProjectAlerts"`
	TasksProjectsFiles     List     `json:"tasksProjectsFiles"`
}

// FormDefinition is a form template keyed by its definition key.
type FormDefinition struct {
	Key               string   `json:"key"`
	Name              string   `json:"name,omitempty"`
	Form              Document `json:"form"`
	Schema            Document `json:"schema"`
	CustomTypes       Document `json:"customTypes"`
	NamedConditions   Document `json:"namedConditions"`
	ProcessCommonData Document `json:"processCommonData"`
	PhotoTypes        List     `json:"photoTypes"`
}

// FormValues holds the answers entered against a task's form.
type FormValues struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	Values      Document `json:"values"`
	Files       []File   `json:"files"`
	Attachments List     `json:"attachments"`
	Alerts      List     `json:"alerts"`
	Progress    Document `json:"progress"`
	Well        Document `json:"well"`
}

type Image struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"taskId"`
	ProjectID   string   `json:"projectId,omitempty"`
	URI         string   `json:"uri,omitempty"`
	FileName    string   `json:"fileName,omitempty"`
	FileSize    int64    `json:"fileSize,omitempty"`
	FileType    string   `json:"fileType,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	CanChange   bool     `json:"canChange"`
	JSONDetails Document `json:"jsonDetails"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
}

// FormFile is a document attached to a task's form.
type FormFile struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"taskId"`
	URI         string   `json:"uri,omitempty"`
	Name        string   `json:"name,omitempty"`
	Prop        string   `json:"prop,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	Size        int64    `json:"size,omitempty"`
	JSONDetails Document `json:"jsonDetails"`
}

// Log is a pending local mutation. Data holds the full proposed entity.
type Log struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	TableName string          `json:"tableName"`
	Status    Status          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data"`
	Errors    []string        `json:"errors"`
}

type Translation struct {
	Locale      string   `json:"locale"`
	Translation Document `json:"translation"`
}

// SyncType tells which direction a sync run went.
type SyncType int

const (
	SyncPull SyncType = iota
	SyncPush
)

func (t SyncType) String() string {
	if t == SyncPush {
		return "push"
	}
	return "pull"
}

// SyncRecord is bookkeeping for one sync run against one table.
type SyncRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TableName string    `json:"tableName"`
	Model     Document  `json:"model"`
	Errors    []string  `json:"errors"`
	Type      SyncType  `json:"type"`
}

// User is the offline login record kept in the namespace directory.
type User struct {
	ID          string         `json:"id,omitempty"`
	Username    string         `json:"username"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	FirstName   string         `json:"firstName,omitempty"`
	LastName    string         `json:"lastName,omitempty"`
	Language    string         `json:"language,omitempty"`
	UOM         string         `json:"uom,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
}
