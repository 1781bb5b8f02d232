package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/engine"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   logrus.FieldLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"Task t1 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the tablet's local data.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.OrDiscard(cfg.Logger)
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Tablet API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "/docs"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerHealth(group, e)
	registerProjects(group, e)
	registerTasks(group, e)
	registerForms(group, e)
	registerLogs(group, e)
	registerSync(group, e)
	documentOpenAPI(api, basePath, cfg.Auth.JWTSecret != "")

	return router, nil
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("request")
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrValidation):
		var ve *domain.ValidationError
		var details map[string]any
		if errors.As(err, &ve) && ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", msg, details)
	case errors.Is(err, domain.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, domain.ErrNotInitialized):
		return newAPIError(http.StatusServiceUnavailable, "not_initialized", msg, nil)
	case errors.Is(err, domain.ErrFileNotFound):
		return newAPIError(http.StatusNotFound, "file_not_found", msg, nil)
	case errors.Is(err, domain.ErrStoreUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// documentOpenAPI attaches the error envelope as every operation's default
// response and, when bearer auth is on, the security requirement to every
// operation but health.
func documentOpenAPI(api huma.API, basePath string, secured bool) {
	oas := api.OpenAPI()
	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	var security []map[string][]string
	if secured {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
			"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		}
		security = []map[string][]string{{"bearerAuth": {}}}
	}
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: errSchema}},
			}
			if secured && route != healthPath {
				op.Security = security
			}
		}
	}
}

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func ok[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

type idPath struct {
	ID string `path:"id"`
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[map[string]string], error) {
		status := "ok"
		if err := e.Store.Initialized(ctx); err != nil {
			status = "not_initialized"
		}
		return ok(map[string]string{"status": status}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schema",
		Method:      http.MethodGet,
		Path:        "/schema",
		Summary:     "Store schema version and tables",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[SchemaResponse], error) {
		return ok(SchemaResponse{Version: e.Store.SchemaVersion(), Tables: store.Tables()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "The authenticated caller",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[MeResponse], error) {
		p, authed := PrincipalFromContext(ctx)
		return ok(MeResponse{Subject: p.Subject, Roles: p.Roles, Authenticated: authed}), nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Project], error) {
		items, err := e.GetProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Project], error) {
		p, err := e.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/tasks",
		Summary:     "List a project's tasks in project order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[[]domain.Task], error) {
		tasks, err := e.GetTasksByProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(tasks), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}",
		Summary:     "Delete a project with its tasks, attachments and changelog",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-unlinked-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/unlinked",
		Summary:     "Tasks created locally that belong to no project",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Task], error) {
		tasks, err := e.UnlinkedTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(tasks), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task with its pending edit applied",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.Task], error) {
		t, err := e.MergedTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(t), nil
	})
}

func registerForms(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-form-values",
		Method:      http.MethodGet,
		Path:        "/form-values/{id}",
		Summary:     "Get form values with their pending edit applied",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.FormValues], error) {
		v, err := e.GetFormValue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-form-definition",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/form-definition",
		Summary:     "Get the form definition a task's values were entered against",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[domain.FormDefinition], error) {
		d, err := e.GetFormDefinitionByTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(d), nil
	})
}

func registerLogs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "List changelog entries, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Table  string `query:"table"`
		Status string `query:"status" doc:"Status name or number"`
	}) (*bodyOutput[[]LogResponse], error) {
		var f changelog.Filter
		if input.Table != "" {
			f.Tables = []string{input.Table}
		}
		if input.Status != "" {
			s, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, handleError(err)
			}
			f.Statuses = []domain.Status{s}
		}
		logs, err := e.Changelog.Logs(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapLogs(logs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-logs",
		Method:      http.MethodGet,
		Path:        "/logs/pending",
		Summary:     "Changelog entries still waiting for a sync attempt",
	}, func(ctx context.Context, input *struct {
		Table string `query:"table"`
	}) (*bodyOutput[[]LogResponse], error) {
		var tables []string
		if input.Table != "" {
			tables = []string{input.Table}
		}
		logs, err := e.Changelog.Pending(ctx, tables...)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(mapLogs(logs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-log",
		Method:      http.MethodGet,
		Path:        "/logs/{id}",
		Summary:     "Get a changelog entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*bodyOutput[LogResponse], error) {
		l, err := e.Changelog.GetLog(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(logResponse(l)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-log-status",
		Method:      http.MethodPut,
		Path:        "/logs/{id}/status",
		Summary:     "Move a changelog entry to a new status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetStatusRequest
	}) (*struct{}, error) {
		s, err := domain.ParseStatus(input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Changelog.SetStatus(ctx, input.ID, s, input.Body.Message); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-log",
		Method:      http.MethodPost,
		Path:        "/logs/{id}/export",
		Summary:     "Share a changelog entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.ExportLog(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-log",
		Method:      http.MethodDelete,
		Path:        "/logs/{id}",
		Summary:     "Discard a changelog entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.Changelog.DeleteLog(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSync(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sync-logs",
		Method:      http.MethodGet,
		Path:        "/sync/logs",
		Summary:     "Sync runs, newest first",
	}, func(ctx context.Context, input *struct {
		Table string `query:"table"`
	}) (*bodyOutput[[]domain.SyncRecord], error) {
		recs, err := e.GetSyncLogs(ctx, input.Table)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(recs), nil
	})
}
