package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"tapline/internal/absence"
	"tapline/internal/app"
	"tapline/internal/config"
	"tapline/internal/domain"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	ctx := context.Background()
	rt, err := app.OpenWithConfig(ctx, t.TempDir(), config.Default("tapline"), nil)
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	store, closeStore, err := rt.OutboxStore(ctx)
	if err != nil {
		t.Fatalf("outbox store: %v", err)
	}
	handler, err := New(Config{Engine: rt.Engine, Events: store, BasePath: "/v1"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			closeStore()
			rt.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v: %s", err, data)
	}
	return env.Error
}

func createAuthorisation(t *testing.T, srv *testServer, categorisation map[string]any) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/authorisations", map[string]any{
		"person_identifier": "A1234BC",
		"prison_code":       "LEI",
		"start":             "2030-01-02T09:00:00Z",
		"end":               "2030-01-02T17:00:00Z",
		"categorisation":    categorisation,
		"accompaniment":     "U",
		"transport":         "CAR",
	}, map[string]string{"X-Actor-Id": "officer-1"})
}

func TestAuthorisationLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := createAuthorisation(t, srv, map[string]any{"absence_reason": "R17"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Authorisation
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal authorisation: %v", err)
	}
	if created.Status != domain.AuthorisationPending || len(created.ReasonPath) == 0 {
		t.Fatalf("unexpected authorisation %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/authorisations/"+created.ID+"/approve", map[string]any{"reason": "ok"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/authorisations/"+created.ID+"/occurrences", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list occurrences status %d: %s", res.StatusCode, string(data))
	}
	var occurrences []domain.Occurrence
	if err := json.Unmarshal(data, &occurrences); err != nil {
		t.Fatalf("unmarshal occurrences: %v", err)
	}
	if len(occurrences) != 1 || occurrences[0].Status != domain.OccurrenceScheduled {
		t.Fatalf("expected one scheduled occurrence, got %+v", occurrences)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/movements", map[string]any{
		"occurrence_id": occurrences[0].ID,
		"direction":     "out",
		"occurred_at":   "2030-01-02T09:05:00Z",
		"prison_code":   "LEI",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record movement status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/occurrences/"+occurrences[0].ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get occurrence status %d: %s", res.StatusCode, string(data))
	}
	var o domain.Occurrence
	_ = json.Unmarshal(data, &o)
	if o.Status != domain.OccurrenceInProgress || len(o.Movements) != 1 {
		t.Fatalf("expected in progress with one movement, got %+v", o)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_id="+created.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	_ = json.Unmarshal(data, &events)
	types := map[string]bool{}
	for _, e := range events {
		types[e.Type] = true
	}
	if !types[absence.EventAuthorisationCreated] || !types[absence.EventAuthorisationApproved] {
		t.Fatalf("expected created and approved events, got %v", types)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/audit/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var audit []domain.AuditEntry
	_ = json.Unmarshal(data, &audit)
	if len(audit) < 2 || audit[0].ActorID != "officer-1" {
		t.Fatalf("unexpected audit trail %+v", audit)
	}
}

func TestInvalidTransitionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := createAuthorisation(t, srv, map[string]any{"absence_reason": "R17"})
	var created domain.Authorisation
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/authorisations/"+created.ID+"/deny", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deny status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/authorisations/"+created.ID+"/approve", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(body))
	}
	apiErr := decodeError(t, body)
	if apiErr.Code != "invalid_transition" || apiErr.Details["from"] != "DENIED" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestAmbiguousCategorisationRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := createAuthorisation(t, srv, map[string]any{"absence_type": "SR", "absence_reason": "R15"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}
	apiErr := decodeError(t, body)
	if apiErr.Code != "ambiguous_categorisation" || apiErr.Details["count"] != float64(4) {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestMissingReferenceDataRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := createAuthorisation(t, srv, map[string]any{"absence_reason": "NOPE"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}
	if apiErr := decodeError(t, body); apiErr.Code != "reference_data_not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestUnknownAuthorisationNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/authorisations/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(body))
	}
}

func TestReferenceDataAndResolve(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/reference-data/transport", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reference data status %d: %s", res.StatusCode, string(body))
	}
	var items []domain.ReferenceItem
	_ = json.Unmarshal(body, &items)
	if len(items) == 0 || items[0].Domain != domain.DomainTransport {
		t.Fatalf("unexpected items %+v", items)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/reference-data/resolve", map[string]any{
		"categorisation": map[string]any{"absence_reason": "R17"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(body))
	}
	var resolved ResolveResponse
	_ = json.Unmarshal(body, &resolved)
	if len(resolved.ReasonPath) != 4 || resolved.Categorisation.AbsenceType == "" {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
}
