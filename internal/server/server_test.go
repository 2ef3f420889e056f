package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	assignmentdomain "github.com/smallbiznis/medaudit/internal/assignment/domain"
	assignmentrepo "github.com/smallbiznis/medaudit/internal/assignment/repository"
	assignmentservice "github.com/smallbiznis/medaudit/internal/assignment/service"
	"github.com/smallbiznis/medaudit/internal/authorization"
	claimrepo "github.com/smallbiznis/medaudit/internal/claim/repository"
	claimservice "github.com/smallbiznis/medaudit/internal/claim/service"
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/config"
	glosadomain "github.com/smallbiznis/medaudit/internal/glosa/domain"
	glosarepo "github.com/smallbiznis/medaudit/internal/glosa/repository"
	glosaservice "github.com/smallbiznis/medaudit/internal/glosa/service"
	"github.com/smallbiznis/medaudit/internal/observability"
	preauditrepo "github.com/smallbiznis/medaudit/internal/preaudit/repository"
	preauditservice "github.com/smallbiznis/medaudit/internal/preaudit/service"
	"github.com/smallbiznis/medaudit/internal/ratelimit"
	rosterrepo "github.com/smallbiznis/medaudit/internal/roster/repository"
	rosterservice "github.com/smallbiznis/medaudit/internal/roster/service"
	"github.com/smallbiznis/medaudit/internal/testutil"
	tracerepo "github.com/smallbiznis/medaudit/internal/traceability/repository"
	traceservice "github.com/smallbiznis/medaudit/internal/traceability/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, guard *ratelimit.ClaimGuard) *Server {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(testutil.BaseTime.Add(240 * time.Hour))
	log := zap.NewNop()

	trace := traceservice.New(traceservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: tracerepo.Provide()})
	claims := claimservice.New(claimservice.Params{Log: log, GenID: node, Clock: clk, Repo: claimrepo.NewSQL(db), Trace: trace})
	holder, err := config.NewStaticRuleSetHolder(config.DefaultRuleSet())
	require.NoError(t, err)
	preaudit := preauditservice.New(preauditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: preauditrepo.Provide(), Claims: claims, Trace: trace, Rules: holder, Guard: guard,
	})
	rosterRepo := rosterrepo.Provide()
	roster := rosterservice.New(rosterservice.Params{DB: db, Log: log, Clock: clk, Repo: rosterRepo})
	assignments := assignmentservice.New(assignmentservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: assignmentrepo.Provide(), Roster: rosterRepo, Claims: claims, Trace: trace,
	})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, Roster: roster})
	glosas, err := glosaservice.New(glosaservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: glosarepo.Provide(), Claims: claims, Trace: trace, Assignments: assignments, Authz: authz,
	})
	require.NoError(t, err)

	return NewServer(ServerParams{
		Gin:           NewEngine(observability.Config{Environment: "test"}, nil),
		ClaimSvc:      claims,
		PreAuditSvc:   preaudit,
		RosterSvc:     roster,
		AssignmentSvc: assignments,
		GlosaSvc:      glosas,
		TraceSvc:      trace,
		AuthzSvc:      authz,
		Guard:         guard,
		Log:           log,
	})
}

func do(t *testing.T, s *Server, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

type errorBody struct {
	Error struct {
		Type           string            `json:"type"`
		CurrentState   string            `json:"current_state"`
		RequestedState string            `json:"requested_state"`
		Errors         []ValidationError `json:"errors"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

type idView struct {
	ID              string `json:"id"`
	ProcessingState string `json:"processing_state"`
}

type preGlosaView struct {
	ID         string `json:"id"`
	ServiceRef string `json:"service_ref"`
	GlosaCode  string `json:"glosa_code"`
	GlosaValue int64  `json:"glosa_value"`
}

func (s *Server) seedAuditor(t *testing.T, id string, role string, capacity int) {
	t.Helper()
	rec := do(t, s, http.MethodPut, "/auditors/"+id, "", gin.H{
		"name":           id,
		"roles":          []string{role},
		"daily_capacity": capacity,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCreateAndGetClaim(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/claims", "", testutil.CleanClaim("FE-6001"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[idView](t, rec)
	assert.Equal(t, "RECEIVED", created.ProcessingState)

	rec = do(t, s, http.MethodGet, "/claims/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[idView](t, rec).ID)

	rec = do(t, s, http.MethodPost, "/claims", "", testutil.CleanClaim("FE-6001"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_invoice", decodeError(t, rec).Error.Type)

	rec = do(t, s, http.MethodGet, "/claims/42", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/claims/not-an-id", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "validation_error", body.Error.Type)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, "id", body.Error.Errors[0].Field)
}

func TestCreateClaimValidation(t *testing.T) {
	s := newTestServer(t, nil)

	req := testutil.CleanClaim("")
	rec := do(t, s, http.MethodPost, "/claims", "", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error.Type)

	raw := httptest.NewRequest(http.MethodPost, "/claims", strings.NewReader("{"))
	out := httptest.NewRecorder()
	s.Engine().ServeHTTP(out, raw)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestAuditWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/claims", "", testutil.ClaimWithServices("FE-6002", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	claimID := decode[idView](t, rec).ID

	rec = do(t, s, http.MethodPost, "/classify/"+claimID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[struct {
		PreGlosas []preGlosaView `json:"pre_glosas"`
	}](t, rec)
	require.Len(t, result.PreGlosas, 2)

	rec = do(t, s, http.MethodGet, "/classify/"+claimID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.seedAuditor(t, "coord-1", "COORDINATOR", 1)
	s.seedAuditor(t, "aud-1", "ADMIN_AUDITOR", 5)
	s.seedAuditor(t, "conc-1", "CONCILIATOR", 1)

	batch := gin.H{"preGlosaIds": []string{result.PreGlosas[0].ID, result.PreGlosas[1].ID}}
	rec = do(t, s, http.MethodPost, "/assignments/batch", "aud-1", batch)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/assignments/batch", "coord-1", batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decode[struct {
		AssignmentsCreated []struct {
			AuditorID string `json:"auditor_id"`
		} `json:"assignments_created"`
		Unassigned []struct {
			Reason string `json:"reason"`
		} `json:"unassigned"`
	}](t, rec)
	require.Len(t, assigned.AssignmentsCreated, 1)
	assert.Equal(t, "aud-1", assigned.AssignmentsCreated[0].AuditorID)
	assert.Empty(t, assigned.Unassigned)

	rec = do(t, s, http.MethodGet, "/auditors/aud-1/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	pre := result.PreGlosas[0]
	base := "/glosas/" + pre.ServiceRef

	rec = do(t, s, http.MethodPost, base+"/respond", "ips-1", gin.H{"response_type": "ACCEPT", "accepted_value": 0})
	assert.Equal(t, http.StatusConflict, rec.Code)
	transition := decodeError(t, rec)
	assert.Equal(t, "invalid_transition", transition.Error.Type)
	assert.Equal(t, "NONE", transition.Error.CurrentState)
	assert.Equal(t, "RESPONDIDA", transition.Error.RequestedState)

	rec = do(t, s, http.MethodPost, base+"/apply", "aud-1", gin.H{"code": pre.GlosaCode, "value": pre.GlosaValue + 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/apply", "aud-1", gin.H{"code": pre.GlosaCode, "value": pre.GlosaValue, "justification": "sin autorizacion"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, base+"/apply", "aud-1", gin.H{"code": pre.GlosaCode, "value": pre.GlosaValue})
	assert.Equal(t, http.StatusConflict, rec.Code)
	glosed := decodeError(t, rec)
	assert.Equal(t, "already_glosed", glosed.Error.Type)
	assert.Equal(t, "GLOSADA", glosed.Error.CurrentState)
	assert.Equal(t, "GLOSADA", glosed.Error.RequestedState)

	rec = do(t, s, http.MethodPost, base+"/respond", "ips-1", gin.H{"response_type": "PARTIAL", "accepted_value": pre.GlosaValue / 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, base+"/decide", "aud-1", gin.H{"decision": "RATIFICAR"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/decide", "conc-1", gin.H{"decision": "RATIFICAR"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RATIFICADA", decode[struct {
		State string `json:"state"`
	}](t, rec).State)

	rec = do(t, s, http.MethodGet, base+"/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)

	rec = do(t, s, http.MethodGet, "/auditors/aud-1/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	// The second line is still pending, so the claim stays in audit.
	assert.Equal(t, "IN_AUDIT", s.claimState(t, claimID))

	release := "/assignments/items/" + result.PreGlosas[1].ID + "/release"
	rec = do(t, s, http.MethodPost, release, "conc-1", gin.H{"reason": "pertinente"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/assignments/items/not-an-id/release", "aud-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, release, "aud-1", gin.H{"reason": "pertinente"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	released := decode[struct {
		ID       string  `json:"id"`
		ClosedAt *string `json:"closed_at"`
	}](t, rec)
	assert.Equal(t, result.PreGlosas[1].ID, released.ID)
	assert.NotNil(t, released.ClosedAt)

	rec = do(t, s, http.MethodGet, "/auditors/aud-1/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]map[string]any](t, rec))
	assert.Equal(t, "AUDITED", s.claimState(t, claimID))

	rec = do(t, s, http.MethodGet, "/claims/"+claimID+"/traceability?page_size=50", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[struct {
		Entries []struct {
			ActionCode string `json:"action_code"`
		} `json:"entries"`
	}](t, rec).Entries
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.ActionCode)
	}
	assert.Equal(t, []string{
		"claim.received",
		"preaudit.classified",
		"assignment.bound",
		"assignment.bound",
		"glosa.applied",
		"glosa.responded",
		"glosa.ratified",
		"assignment.released",
	}, actions)
}

func (s *Server) claimState(t *testing.T, claimID string) string {
	t.Helper()
	rec := do(t, s, http.MethodGet, "/claims/"+claimID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		ProcessingState string `json:"processing_state"`
	}](t, rec).ProcessingState
}

func TestErrorBodiesCarryNoPatientData(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/claims", "", testutil.CleanClaim("FE-6003"))
	require.Equal(t, http.StatusCreated, rec.Code)
	claimID := decode[idView](t, rec).ID

	rec = do(t, s, http.MethodPost, "/glosas/"+claimID+".0.procedure.0/apply", "aud-1", gin.H{"code": "FA1605", "value": 999_999_999})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotContains(t, rec.Body.String(), "1020304050")
	assert.NotContains(t, rec.Body.String(), "999999999")

	rec = do(t, s, http.MethodGet, "/glosas/not-a-ref", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, "service_ref", body.Error.Errors[0].Field)
}

func TestProviderRateLimit(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard := ratelimit.NewClaimGuard(config.Config{IngestProviderRate: 0.01, IngestProviderBurst: 1}, client)
	s := newTestServer(t, guard)

	rec := do(t, s, http.MethodPost, "/claims", "", testutil.CleanClaim("FE-7001"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/claims", "", testutil.CleanClaim("FE-7002"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Error.Type)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	srv.Close()
	rec = do(t, s, http.MethodPost, "/claims", "", testutil.CleanClaim("FE-7003"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.kind)
		assert.Equal(t, tc.kind, payload.Type)
	}
}

func TestMapErrorCarriesTransitionStates(t *testing.T) {
	err := fmt.Errorf("decide: %w", &glosadomain.TransitionError{
		Current:   glosadomain.StateGlosada,
		Requested: glosadomain.StateRatificada,
	})

	status, payload := mapError(err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", payload.Type)
	assert.Equal(t, "GLOSADA", payload.CurrentState)
	assert.Equal(t, "RATIFICADA", payload.RequestedState)

	_, payload = mapError(assignmentdomain.ErrNotAssigned)
	assert.Empty(t, payload.CurrentState)
	assert.Empty(t, payload.RequestedState)
}
