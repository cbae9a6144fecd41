package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spilltree/spilltree/memberstore"
	"github.com/spilltree/spilltree/membertree"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, policy membertree.PositionPolicy) *echo.Echo {
	t.Helper()
	engine, err := membertree.NewEngine(memberstore.NewMemStore(), membertree.Config{PositionPolicy: policy})
	require.NoError(t, err)

	h := NewHandlers(engine, "test", nil)
	e := echo.New()
	e.HTTPErrorHandler = h.ErrorHandler
	h.Register(e)
	return e
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRegisterAndQuery(t *testing.T) {
	assert := assert.New(t)
	e := testServer(t, membertree.PositionPolicySpill)

	rec := doRequest(e, http.MethodGet, "/_health", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("ok", decode[HealthStatus](t, rec).Status)

	rec = doRequest(e, http.MethodPost, "/v1/members", `{"member_code":"R","name":"Root","email":"r@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PostMemberResponse](t, rec)
	assert.Equal("R", created.MemberCode)
	assert.Nil(created.Placement)

	for _, body := range []string{
		`{"member_code":"A","name":"A","email":"a@example.com","sponsor_code":"R","position":"left"}`,
		`{"member_code":"B","name":"B","email":"b@example.com","sponsor_code":"R","position":"right"}`,
	} {
		rec = doRequest(e, http.MethodPost, "/v1/members", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = doRequest(e, http.MethodPost, "/v1/sponsors/validate", `{"sponsor_code":"R"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	valid := decode[map[string]any](t, rec)
	assert.Equal(true, valid["valid"])
	assert.Equal(true, valid["direct_full"])
	assert.Equal("Root", valid["sponsor_name"])

	rec = doRequest(e, http.MethodPost, "/v1/members", `{"member_code":"C","name":"C","email":"c@example.com","sponsor_code":"R"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created = decode[PostMemberResponse](t, rec)
	require.NotNil(t, created.Placement)
	assert.Equal("A", created.Placement.ParentCode)
	assert.Equal(membertree.PositionLeft, created.Placement.Position)
	assert.True(created.Placement.Spilled)

	rec = doRequest(e, http.MethodGet, "/v1/members/A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	member := decode[map[string]any](t, rec)
	assert.Equal("A", member["member_code"])
	assert.Equal("A", member["name"])
	assert.Equal("R", member["parent_code"])
	assert.Equal(float64(1), member["left_count"])

	rec = doRequest(e, http.MethodGet, "/v1/members/R/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(membertree.Stats{TotalMembers: 3, LeftCount: 2, RightCount: 1, DirectLeft: 1, DirectRight: 1}, decode[membertree.Stats](t, rec))

	rec = doRequest(e, http.MethodGet, "/v1/members/R/downline", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[membertree.DownlineNode](t, rec)
	require.NotNil(t, view.Left)
	require.NotNil(t, view.Left.Left)
	assert.Equal("C", view.Left.Left.Code)
	assert.Equal(4, view.Size())

	rec = doRequest(e, http.MethodGet, "/v1/members/R/downline?depth=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[membertree.DownlineNode](t, rec)
	assert.Equal(3, view.Size())
}

func TestErrorStatuses(t *testing.T) {
	e := testServer(t, membertree.PositionPolicyStrict)
	rec := doRequest(e, http.MethodPost, "/v1/members", `{"member_code":"R","name":"Root","email":"r@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(e, http.MethodPost, "/v1/members", `{"member_code":"A","name":"A","email":"a@example.com","sponsor_code":"R","position":"left"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/v1/members", `{"member_code":`, http.StatusBadRequest},
		{"missing fields", http.MethodPost, "/v1/members", `{"member_code":"X"}`, http.StatusBadRequest},
		{"missing sponsor", http.MethodPost, "/v1/members", `{"member_code":"X","name":"X","email":"x@example.com"}`, http.StatusBadRequest},
		{"unknown sponsor", http.MethodPost, "/v1/members", `{"member_code":"X","name":"X","email":"x@example.com","sponsor_code":"nope"}`, http.StatusNotFound},
		{"duplicate code", http.MethodPost, "/v1/members", `{"member_code":"A","name":"X","email":"x@example.com","sponsor_code":"R"}`, http.StatusConflict},
		{"duplicate email", http.MethodPost, "/v1/members", `{"member_code":"X","name":"X","email":"A@example.com","sponsor_code":"R"}`, http.StatusConflict},
		{"position taken", http.MethodPost, "/v1/members", `{"member_code":"X","name":"X","email":"x@example.com","sponsor_code":"R","position":"left"}`, http.StatusConflict},
		{"validate unknown", http.MethodPost, "/v1/sponsors/validate", `{"sponsor_code":"nope"}`, http.StatusNotFound},
		{"validate empty", http.MethodPost, "/v1/sponsors/validate", `{}`, http.StatusBadRequest},
		{"stats unknown", http.MethodGet, "/v1/members/nope/stats", "", http.StatusNotFound},
		{"member unknown", http.MethodGet, "/v1/members/nope", "", http.StatusNotFound},
		{"downline bad depth", http.MethodGet, "/v1/members/R/downline?depth=-2", "", http.StatusBadRequest},
		{"downline unknown", http.MethodGet, "/v1/members/nope/downline", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(e, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorBody](t, rec).Message)
		})
	}
}

func TestErrorBodyShape(t *testing.T) {
	assert := assert.New(t)
	e := testServer(t, membertree.PositionPolicySpill)

	rec := doRequest(e, http.MethodGet, "/v1/members/nope", "")
	assert.Equal(http.StatusNotFound, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Len(body, 1)
	assert.Contains(body["message"], "nope")
}
