package observation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/auth"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func wireJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(fhir.ToWire(v))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func asUser(req *http.Request, userID uuid.UUID, userType string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), userID.String(), userType))
}

// -- Single create --

func TestHandler_CreateFHIR(t *testing.T) {
	h, f, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/fhir/Observation", strings.NewReader(wireJSON(t, resource(f.patientID, "abc-1"))))
	req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	req = asUser(req, f.practitioner, auth.UserTypePractitioner)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateFHIR(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/fhir/Observation/") {
		t.Errorf("unexpected Location %q", loc)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["resourceType"] != "Observation" {
		t.Errorf("expected resourceType Observation, got %v", body["resourceType"])
	}
	if _, ok := body["valueAttachment"]; !ok {
		t.Errorf("expected wire-cased valueAttachment, got %v", body)
	}
}

// Single create reports every failure as 400, unlike batch entries which
// distinguish 403/409/422.
func TestHandler_CreateFHIR_CollapsesFailuresTo400(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) uuid.UUID
	}{
		{"forbidden", func(f *fixture) uuid.UUID { return uuid.New() }},
		{"conflict", func(f *fixture) uuid.UUID {
			f.svc.Create(context.Background(), resource(f.patientID, "abc-1"), f.practitioner)
			return f.practitioner
		}},
		{"unexpected", func(f *fixture) uuid.UUID {
			f.repo.createErr = errBoom
			return f.practitioner
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler()
			actor := tt.setup(f)
			req := httptest.NewRequest(http.MethodPost, "/fhir/Observation", strings.NewReader(wireJSON(t, resource(f.patientID, "abc-1"))))
			req = asUser(req, actor, auth.UserTypePractitioner)
			rec := httptest.NewRecorder()
			if err := h.CreateFHIR(e.NewContext(req, rec)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			var oo fhir.OperationOutcome
			json.Unmarshal(rec.Body.Bytes(), &oo)
			if len(oo.Issue) != 1 || oo.Issue[0].Diagnostics == "" {
				t.Errorf("expected one diagnostic issue, got %+v", oo)
			}
		})
	}
}

func TestHandler_CreateFHIR_MalformedBody(t *testing.T) {
	h, f, e := newTestHandler()
	valid := wireJSON(t, resource(f.patientID, ""))
	for name, body := range map[string]string{
		"truncated":     valid[:len(valid)-1],
		"trailing data": valid + valid,
		"not an object": `["Observation"]`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/fhir/Observation", strings.NewReader(body))
			req = asUser(req, f.practitioner, auth.UserTypePractitioner)
			rec := httptest.NewRecorder()
			if err := h.CreateFHIR(e.NewContext(req, rec)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
	if len(f.repo.data) != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestHandler_CreateFHIR_NoActor(t *testing.T) {
	h, f, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/fhir/Observation", strings.NewReader(wireJSON(t, resource(f.patientID, ""))))
	rec := httptest.NewRecorder()
	h.CreateFHIR(e.NewContext(req, rec))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// -- Search --

func TestHandler_SearchFHIR(t *testing.T) {
	h, f, e := newTestHandler()
	for i := 0; i < 3; i++ {
		f.svc.Create(context.Background(), resource(f.patientID, ""), f.practitioner)
	}
	req := httptest.NewRequest(http.MethodGet, "/fhir/Observation?patient="+f.patientID.String()+"&_count=2", nil)
	req = asUser(req, f.practitioner, auth.UserTypePractitioner)
	rec := httptest.NewRecorder()

	if err := h.SearchFHIR(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var b fhir.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if b.Type != "searchset" || b.Total == nil || *b.Total != 3 || len(b.Entry) != 2 {
		t.Errorf("unexpected bundle type=%s total=%v entries=%d", b.Type, b.Total, len(b.Entry))
	}
	var next string
	for _, l := range b.Link {
		if l.Relation == "next" {
			next = l.URL
		}
	}
	if !strings.Contains(next, "patient="+f.patientID.String()) || !strings.Contains(next, "_offset=2") {
		t.Errorf("unexpected next link %q", next)
	}
}

func TestHandler_SearchFHIR_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		query func(f *fixture) string
		want  int
	}{
		{"no filter", func(f *fixture) string { return "code=" + testSystem + "|" + testCode }, http.StatusBadRequest},
		{"bad patient", func(f *fixture) string { return "patient=nope" }, http.StatusBadRequest},
		{"unauthorized study", func(f *fixture) string {
			return "patient._has:Group:member:_id=" + uuid.New().String() + "&patient=" + f.patientID.String()
		}, http.StatusForbidden},
		{"patient outside study", func(f *fixture) string {
			studyID := uuid.New()
			f.authz.studies[studyID] = true
			return "patient._has:Group:member:_id=" + studyID.String() + "&patient=" + f.patientID.String()
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler()
			req := httptest.NewRequest(http.MethodGet, "/fhir/Observation?"+tt.query(f), nil)
			req = asUser(req, f.practitioner, auth.UserTypePractitioner)
			rec := httptest.NewRecorder()
			if err := h.SearchFHIR(e.NewContext(req, rec)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// -- Fetch --

func TestHandler_GetFHIR(t *testing.T) {
	h, f, e := newTestHandler()
	o, _ := f.svc.Create(context.Background(), resource(f.patientID, ""), f.practitioner)

	get := func() *httptest.ResponseRecorder {
		req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), f.practitioner, auth.UserTypePractitioner)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(o.ID.String())
		if err := h.GetFHIR(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return rec
	}

	if rec := get(); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	f.authz.observations[o.ID] = true
	if rec := get(); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetFHIR_InvalidID(t *testing.T) {
	h, f, e := newTestHandler()
	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), f.practitioner, auth.UserTypePractitioner)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	h.GetFHIR(c)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// -- Batch --

func batch(entries ...map[string]interface{}) map[string]interface{} {
	list := make([]interface{}, len(entries))
	for i, r := range entries {
		list[i] = map[string]interface{}{
			"resource": r,
			"request":  map[string]interface{}{"method": "POST", "url": "Observation"},
		}
	}
	return map[string]interface{}{"resource_type": "Bundle", "type": "batch", "entry": list}
}

func TestBundle_SingleEntryCreated(t *testing.T) {
	f := newFixture()
	p := fhir.NewBundleProcessor(f.svc, zerolog.Nop())

	resp, err := p.Process(context.Background(), []byte(wireJSON(t, batch(resource(f.patientID, "")))), f.practitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Type != "batch-response" || len(resp.Entry) != 1 {
		t.Fatalf("unexpected response type=%s entries=%d", resp.Type, len(resp.Entry))
	}
	if resp.Entry[0].Response.Status != "201 Created" {
		t.Errorf("expected 201 Created, got %q", resp.Entry[0].Response.Status)
	}
	var created struct{ ID string }
	json.Unmarshal(resp.Entry[0].Resource, &created)
	id, err := uuid.Parse(created.ID)
	if err != nil {
		t.Fatalf("expected created id, got %q", created.ID)
	}
	if _, ok := f.repo.data[id]; !ok {
		t.Error("created id does not match a stored observation")
	}
}

func TestBundle_PartialFailureIsolation(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), resource(f.patientID, "dup"), f.practitioner); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := fhir.NewBundleProcessor(f.svc, zerolog.Nop())

	body := wireJSON(t, batch(
		resource(f.patientID, "first"),
		resource(f.patientID, "dup"),
		resource(f.patientID, "third"),
	))
	resp, err := p.Process(context.Background(), []byte(body), f.practitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Entry) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Entry))
	}
	want := []string{"201 Created", "409 Conflict", "201 Created"}
	for i, w := range want {
		if got := resp.Entry[i].Response.Status; got != w {
			t.Errorf("entry %d: expected %q, got %q", i, w, got)
		}
	}
	oo := resp.Entry[1].Response.Outcome
	if oo == nil || !strings.Contains(oo.Issue[0].Diagnostics, "observation_identifier_key") {
		t.Errorf("expected constraint detail in diagnostic, got %+v", oo)
	}
	if len(f.repo.data) != 3 {
		t.Errorf("expected seed plus 2 committed, got %d", len(f.repo.data))
	}
	if f.tx.calls != 4 {
		t.Errorf("expected one transaction per entry, got %d", f.tx.calls)
	}
}

func TestBundle_MixedOutcomesPreserveOrder(t *testing.T) {
	f := newFixture()
	p := fhir.NewBundleProcessor(f.svc, zerolog.Nop())

	noSubject := resource(f.patientID, "")
	delete(noSubject, "subject")
	stranger := resource(uuid.New(), "")
	notObservation := resource(f.patientID, "")
	notObservation["resource_type"] = "Patient"

	b := batch(resource(f.patientID, ""), noSubject, notObservation, stranger)
	entries := b["entry"].([]interface{})
	put := resource(f.patientID, "")
	entries = append(entries, map[string]interface{}{
		"resource": put,
		"request":  map[string]interface{}{"method": "PUT"},
	})
	b["entry"] = entries

	resp, err := p.Process(context.Background(), []byte(wireJSON(t, b)), f.practitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"201 Created", "400 Bad Request", "400 Bad Request", "400 Bad Request", "400 Bad Request"}
	if len(resp.Entry) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(resp.Entry))
	}
	for i, w := range want {
		if got := resp.Entry[i].Response.Status; got != w {
			t.Errorf("entry %d: expected %q, got %q", i, w, got)
		}
	}
}

func TestBundle_ForbiddenAndFailedEntries(t *testing.T) {
	f := newFixture()
	delete(f.authz.granted, pair{f.patientID, f.scope.ID})
	p := fhir.NewBundleProcessor(f.svc, zerolog.Nop())

	resp, err := p.Process(context.Background(), []byte(wireJSON(t, batch(resource(f.patientID, "")))), f.practitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Entry[0].Response.Status; got != "403 Forbidden" {
		t.Errorf("expected 403 Forbidden, got %q", got)
	}

	f.authz.granted[pair{f.patientID, f.scope.ID}] = true
	f.repo.createErr = errBoom
	resp, err = p.Process(context.Background(), []byte(wireJSON(t, batch(resource(f.patientID, "")))), f.practitioner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Entry[0].Response.Status; got != "422 Unprocessable Entity" {
		t.Errorf("expected 422, got %q", got)
	}
	if oo := resp.Entry[0].Response.Outcome; oo == nil || oo.Issue[0].Diagnostics != errBoom.Error() {
		t.Errorf("expected failure message surfaced, got %+v", oo)
	}
}

func TestBundle_PrevalidationIsAllOrNothing(t *testing.T) {
	f := newFixture()
	p := fhir.NewBundleProcessor(f.svc, zerolog.Nop())

	missing := resource(f.patientID, "")
	missing["value_attachment"] = map[string]interface{}{"content_type": "application/json"}

	_, err := p.Process(context.Background(), []byte(wireJSON(t, batch(resource(f.patientID, ""), missing))), f.practitioner)
	if !errors.Is(err, fhir.ErrInvalidBundle) {
		t.Fatalf("expected ErrInvalidBundle, got %v", err)
	}
	if len(f.repo.data) != 0 || f.tx.calls != 0 {
		t.Errorf("expected no writes, got %d rows and %d transactions", len(f.repo.data), f.tx.calls)
	}
}
