// Package server exposes the submission platform over HTTP. Every state
// change goes through the engine's event path; the API never writes rows
// directly.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"papertrail/internal/domain"
	"papertrail/internal/engine"
	"papertrail/internal/engine/auth"
	"papertrail/internal/events"
	"papertrail/internal/repo"
	"papertrail/internal/rules"
	"papertrail/internal/taxonomy"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"agent may not write submission 7"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Papertrail API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema violations in the request itself are the client's
			// bad request, not a domain validation failure
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Papertrail API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSubmissions(group, cfg.Engine, cfg.Repo)
	registerEvents(group, cfg.Engine, cfg.Repo)
	registerRules(group, cfg.Repo)
	registerReference(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Repo)

	return router, nil
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var nse *engine.NoSuchSubmissionError
	if errors.As(err, &nse) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrEventNotFound) || errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var stack *engine.InvalidStackError
	if errors.As(err, &stack) {
		details := map[string]any{"errors": errorStrings(stack.Errors)}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	var limit *engine.RuleLimitError
	if errors.As(err, &limit) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"limit": limit.Limit})
	}
	var inv *events.InvalidEventError
	if errors.As(err, &inv) {
		var details map[string]any
		if inv.Event != nil {
			details = map[string]any{"event_type": inv.Event.Type()}
		}
		return newAPIError(http.StatusUnprocessableEntity, "invalid_event", err.Error(), details)
	}
	if errors.Is(err, engine.ErrNoEvents) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var se *engine.SaveError
	if errors.As(err, &se) {
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):              true,
		path.Join(basePath, "auth/dev/login"):      true,
		path.Join(basePath, "taxonomy/categories"): true,
		path.Join(basePath, "licenses"):            true,
		path.Join(basePath, "events/types"):        true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Papertrail API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSubmissions(api huma.API, eng engine.Engine, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Create a submission from an initial event batch",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest `json:"body"`
	}) (*struct {
		Body SubmissionEventsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.CheckWrite(principal, nil); err != nil {
			return nil, handleError(err)
		}
		batch, err := buildEvents(input.Body.Events, principal, eng.Now())
		if err != nil {
			return nil, handleError(err)
		}
		sub, applied, err := eng.Save(ctx, 0, batch...)
		if err != nil {
			return nil, handleError(err)
		}
		evs, err := eventResponses(applied)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionEventsResponse `json:"body"`
		}{Body: SubmissionEventsResponse{Submission: sub, Events: evs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Active    string `query:"active" doc:"Filter by active flag, true or false"`
		Finalized string `query:"finalized" doc:"Filter by finalized flag, true or false"`
		Owner     string `query:"owner" doc:"Owner identifier, admin and system agents only"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedSubmissions `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.CheckRead(principal, nil); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filters := repo.SubmissionFilters{
			OwnerID:         input.Owner,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		// regular users only see their own submissions
		if principal.Agent.Type != domain.AgentSystem && !principal.HasScope(auth.ScopeAdmin) {
			filters.OwnerID = principal.Agent.Identifier()
		}
		if filters.Active, err = parseBoolFilter(input.Active); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid active filter", nil)
		}
		if filters.Finalized, err = parseBoolFilter(input.Finalized); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid finalized filter", nil)
		}
		items, err := r.ListSubmissions(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedSubmissions{Items: []*domain.Submission{}}
		if len(items) > limit {
			last := items[limit]
			resp.NextCursor = composeCursor(last.Created.UTC().Format(time.RFC3339Nano), strconv.FormatInt(last.ID, 10))
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedSubmissions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}",
		Summary:     "Projected submission state",
		Description: "Replays the event log; the state returned is the fold of every committed event, not the stored snapshot.",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, _, err := eng.Load(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := auth.CheckRead(principal, sub); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: *sub}, nil
	})
}

func registerEvents(api huma.API, eng engine.Engine, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/events",
		Summary:     "Submission event history",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, history, err := eng.Load(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := auth.CheckRead(principal, sub); err != nil {
			return nil, handleError(err)
		}
		items, err := eventResponses(history)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/events/{event_id}",
		Summary:     "Single event",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      int64  `path:"id"`
		EventID string `path:"event_id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := r.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := auth.CheckRead(principal, sub); err != nil {
			return nil, handleError(err)
		}
		ev, err := r.GetEvent(ctx, input.ID, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := eventResponse(ev)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-state-at-event",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/events/{event_id}/state",
		Summary:     "Submission state as of an event",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      int64  `path:"id"`
		EventID string `path:"event_id"`
	}) (*struct {
		Body StateAtEventResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, pivot, err := eng.LoadAt(ctx, input.ID, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := auth.CheckRead(principal, state); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateAtEventResponse `json:"body"`
		}{Body: StateAtEventResponse{
			Event: StateAtEventPivot{
				EventID:   pivot.ID(),
				EventType: pivot.Type(),
				Created:   pivot.Created,
			},
			State: state,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-events",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/events",
		Summary:     "Append an event batch",
		Description: "Validates and applies the batch on top of the stored history. Either every event commits or none does.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body AppendEventsRequest `json:"body"`
	}) (*struct {
		Body SubmissionEventsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := r.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := auth.CheckWrite(principal, sub); err != nil {
			return nil, handleError(err)
		}
		batch, err := buildEvents(input.Body.Events, principal, eng.Now())
		if err != nil {
			return nil, handleError(err)
		}
		stored, applied, err := eng.Save(ctx, input.ID, batch...)
		if err != nil {
			return nil, handleError(err)
		}
		evs, err := eventResponses(applied)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionEventsResponse `json:"body"`
		}{Body: SubmissionEventsResponse{Submission: stored, Events: evs}}, nil
	})

	preflight := func(ctx context.Context, submissionID int64, reqs []EventRequest) (*PreflightResponse, huma.StatusError) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var sub *domain.Submission
		if submissionID != 0 {
			var err error
			sub, err = r.GetSubmission(ctx, submissionID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if err := auth.CheckWrite(principal, sub); err != nil {
			return nil, handleError(err)
		}
		batch, err := buildEvents(reqs, principal, eng.Now())
		if err != nil {
			return nil, handleError(err)
		}
		state, err := eng.Preflight(ctx, submissionID, batch...)
		if err != nil {
			var stack *engine.InvalidStackError
			if errors.As(err, &stack) {
				return &PreflightResponse{Valid: false, Errors: errorStrings(stack.Errors)}, nil
			}
			return nil, handleError(err)
		}
		return &PreflightResponse{Valid: true, Errors: []string{}, State: state}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "preflight-events",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/preflight",
		Summary:     "Validate an event batch without persisting it",
		Description: "Runs the batch against the current state and reports every validation failure, not just the first. Nothing is stored.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body AppendEventsRequest `json:"body"`
	}) (*struct {
		Body PreflightResponse `json:"body"`
	}, error) {
		res, herr := preflight(ctx, input.ID, input.Body.Events)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body PreflightResponse `json:"body"`
		}{Body: *res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preflight-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/preflight",
		Summary:     "Validate a creation batch without persisting it",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSubmissionRequest `json:"body"`
	}) (*struct {
		Body PreflightResponse `json:"body"`
	}, error) {
		res, herr := preflight(ctx, 0, input.Body.Events)
		if herr != nil {
			return nil, herr
		}
		return &struct {
			Body PreflightResponse `json:"body"`
		}{Body: *res}, nil
	})
}

func registerRules(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ruleList `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := r.ListRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ruleList `json:"body"`
		}{Body: ruleList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{id}",
		Summary:     "Single rule",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body rules.Rule `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rule, err := r.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body rules.Rule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create a rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body rules.Rule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.CheckRules(principal); err != nil {
			return nil, handleError(err)
		}
		rule, err := ruleFromRequest(input.Body, principal, time.Now().UTC())
		if err != nil {
			return nil, handleError(err)
		}
		if err := rule.Validate(); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		stored, err := r.InsertRule(ctx, rule)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body rules.Rule `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-rule",
		Method:      http.MethodDelete,
		Path:        "/rules/{id}",
		Summary:     "Deactivate a rule",
		Description: "Rules are never removed from the table; deactivation stops them from firing while keeping the record of what fired historically.",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.CheckRules(principal); err != nil {
			return nil, handleError(err)
		}
		if err := r.SetRuleActive(ctx, input.ID, false); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReference(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/taxonomy/categories",
		Summary:     "Classification categories",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body categoryList `json:"body"`
	}, error) {
		all := taxonomy.All()
		items := make([]taxonomyCategory, 0, len(all))
		for _, c := range all {
			items = append(items, taxonomyCategory(c))
		}
		return &struct {
			Body categoryList `json:"body"`
		}{Body: categoryList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-licenses",
		Method:      http.MethodGet,
		Path:        "/licenses",
		Summary:     "License catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body licenseList `json:"body"`
	}, error) {
		return &struct {
			Body licenseList `json:"body"`
		}{Body: licenseList{Items: licenseResponses(eng.Config)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-event-types",
		Method:      http.MethodGet,
		Path:        "/events/types",
		Summary:     "Accepted event types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []string `json:"items"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Items []string `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = events.Types()
		return out, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			Agent:  principal.Agent,
			Proxy:  principal.Proxy,
			Scopes: principal.Scopes,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		agentType := domain.AgentType(input.Body.AgentType)
		if agentType == "" {
			agentType = domain.AgentUser
		}
		agent, err := domain.NewAgent(agentType, userID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		scopes := input.Body.Scopes
		if len(scopes) == 0 {
			scopes = auth.DefaultUserScopes
		}
		token, err := SignToken(authCfg.JWTSecret, agent, scopes, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func parseBoolFilter(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseCompositeCursor(cursor string) (string, int64, error) {
	if cursor == "" {
		return "", 0, nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", 0, fmt.Errorf("invalid cursor")
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid cursor")
	}
	return parts[0], id, nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
