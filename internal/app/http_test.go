package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskhive/api/internal/auth"
	"taskhive/api/internal/store"
)

func newTestHTTPServer(t *testing.T, fs *fakeStore) *httptest.Server {
	t.Helper()
	service, _ := newTestService(fs)
	server := httptest.NewServer(NewHTTPServer(service, nil, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func tokenFor(t *testing.T, user store.User) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), user.ID, user.Username, user.Role, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	fs := newFakeStore()
	server := newTestHTTPServer(t, fs)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/user", "", map[string]string{
		"username": "erin",
		"password": "hunter22",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var user store.User
	decodeJSON(t, resp, &user)
	if user.Username != "erin" || user.Role != "user" {
		t.Fatalf("unexpected user: %+v", user)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/login", "", map[string]string{
		"username": "erin",
		"password": "hunter22",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var session struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
		Username     string `json:"username"`
		Role         string `json:"role"`
	}
	decodeJSON(t, resp, &session)
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("missing tokens in login response: %+v", session)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/login/refresh", "", map[string]string{
		"refreshToken": session.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginRejectsBadPassword(t *testing.T) {
	fs := newFakeStore()
	server := newTestHTTPServer(t, fs)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/user", "", map[string]string{
		"username": "erin",
		"password": "hunter22",
	})
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, server.URL+"/api/login", "", map[string]string{
		"username": "erin",
		"password": "wrong",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login with wrong password status = %d", resp.StatusCode)
	}
}

func TestTaskboardCreationScenario(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	adminToken := tokenFor(t, fs.users["user_admin"])
	resp := doJSON(t, http.MethodPost, server.URL+"/api/taskboard", adminToken, map[string]string{
		"name":        "Ops",
		"description": "infra work",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create taskboard status = %d", resp.StatusCode)
	}
	var taskboard store.Taskboard
	decodeJSON(t, resp, &taskboard)
	if len(taskboard.UserIDs) != 1 || taskboard.UserIDs[0] != "user_admin" {
		t.Fatalf("creator not in members: %v", taskboard.UserIDs)
	}
	if len(taskboard.AdminIDs) != 1 || taskboard.AdminIDs[0] != "user_admin" {
		t.Fatalf("creator not in admins: %v", taskboard.AdminIDs)
	}

	memberToken := tokenFor(t, fs.users["user_member"])
	resp = doJSON(t, http.MethodPost, server.URL+"/api/taskboard", memberToken, map[string]string{
		"name": "Rogue",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create status = %d, want 403", resp.StatusCode)
	}
}

func TestTaskCreationScenario(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	memberToken := tokenFor(t, fs.users["user_member"])
	resp := doJSON(t, http.MethodPost, server.URL+"/api/taskboard/tb_1/task", memberToken, map[string]string{
		"title":       "Write docs",
		"description": "Cover the API",
		"status":      store.StatusTodo,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d", resp.StatusCode)
	}
	var taskboard store.Taskboard
	decodeJSON(t, resp, &taskboard)
	if len(taskboard.TaskIDs) != 2 {
		t.Fatalf("task missing from returned board: %v", taskboard.TaskIDs)
	}
}

func TestCommentDenialScenario(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	outsiderToken := tokenFor(t, fs.users["user_outsider"])
	resp := doJSON(t, http.MethodPost, server.URL+"/api/taskboard/tb_1/task/task_1/comment", outsiderToken, map[string]string{
		"text":        "sneaky",
		"commentType": store.CommentTypeComment,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member comment status = %d, want 403", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeJSON(t, resp, &body)
	if body.Code != "USER_NOT_IN_TASKBOARD" {
		t.Fatalf("unexpected code %q", body.Code)
	}
	if len(fs.comments) != 1 {
		t.Fatalf("comment leaked into storage")
	}
}

func TestCommentDeletionScenario(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	fs.users["user_other"] = store.User{ID: "user_other", Username: "carol", Role: "user", TaskboardIDs: []string{"tb_1"}}
	tb := fs.taskboards["tb_1"]
	tb.UserIDs = append(tb.UserIDs, "user_other")
	fs.taskboards["tb_1"] = tb
	server := newTestHTTPServer(t, fs)

	url := server.URL + "/api/taskboard/tb_1/task/task_1/comment/cm_1"

	otherToken := tokenFor(t, fs.users["user_other"])
	resp := doJSON(t, http.MethodDelete, url, otherToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("non-owner delete status = %d, want 401", resp.StatusCode)
	}

	creatorToken := tokenFor(t, fs.users["user_member"])
	resp = doJSON(t, http.MethodDelete, url, creatorToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("creator delete status = %d, want 204", resp.StatusCode)
	}
}

func TestResolveScenario(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	adminToken := tokenFor(t, fs.users["user_admin"])
	base := server.URL + "/api/taskboard/tb_1/task/task_1/comment/cm_1"

	resp := doJSON(t, http.MethodPost, base+"/resolve", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	var comment store.Comment
	decodeJSON(t, resp, &comment)
	if !comment.Resolved() || comment.ResolvedBy != "user_admin" {
		t.Fatalf("comment not resolved: %+v", comment)
	}

	resp = doJSON(t, http.MethodPost, base+"/unresolve", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unresolve status = %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &comment)
	if comment.Resolved() {
		t.Fatalf("comment still resolved: %+v", comment)
	}

	memberToken := tokenFor(t, fs.users["user_member"])
	resp = doJSON(t, http.MethodPost, base+"/resolve", memberToken, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin resolve status = %d, want 403", resp.StatusCode)
	}
}

func TestTaskUpdateMismatchReturns400(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	memberToken := tokenFor(t, fs.users["user_member"])
	resp := doJSON(t, http.MethodPut, server.URL+"/api/taskboard/tb_other/task/task_1", memberToken, map[string]string{
		"title": "hijacked",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched update status = %d, want 400", resp.StatusCode)
	}
	if fs.tasks["task_1"].Title != "Fix login" {
		t.Fatalf("update applied despite mismatch")
	}
}

func TestTaskDeleteCascadesOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	adminToken := tokenFor(t, fs.users["user_admin"])
	resp := doJSON(t, http.MethodDelete, server.URL+"/api/taskboard/tb_1/task/task_1", adminToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete task status = %d, want 204", resp.StatusCode)
	}
	if len(fs.comments) != 0 || len(fs.tasks) != 0 {
		t.Fatalf("cascade incomplete: %d comments, %d tasks left", len(fs.comments), len(fs.tasks))
	}
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/taskboard/tb_1"},
		{http.MethodPost, "/api/taskboard/tb_1/task"},
		{http.MethodDelete, "/api/taskboard/tb_1/task/task_1"},
	} {
		resp := doJSON(t, route.method, server.URL+route.path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s without token status = %d, want 401", route.method, route.path, resp.StatusCode)
		}
	}

	expired, err := auth.IssueToken([]byte("test-secret"), "user_member", "bob", "user", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}
	resp := doJSON(t, http.MethodGet, server.URL+"/api/taskboard/tb_1", expired, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d, want 401", resp.StatusCode)
	}
}

func TestUnknownEntityReturns404(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	memberToken := tokenFor(t, fs.users["user_member"])
	for _, tc := range []struct {
		path string
		code string
	}{
		{"/api/taskboard/tb_missing", "TASKBOARD_NOT_FOUND"},
		{"/api/taskboard/tb_1/task/task_missing", "TASK_NOT_FOUND"},
	} {
		resp := doJSON(t, http.MethodGet, server.URL+tc.path, memberToken, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status = %d, want 404", tc.path, resp.StatusCode)
		}
		var body struct {
			Code string `json:"code"`
		}
		decodeJSON(t, resp, &body)
		if body.Code != tc.code {
			t.Fatalf("GET %s code = %q, want %q", tc.path, body.Code, tc.code)
		}
	}
}

func TestMalformedIDReturns400(t *testing.T) {
	fs := newFakeStore()
	seedBoard(fs)
	server := newTestHTTPServer(t, fs)

	memberToken := tokenFor(t, fs.users["user_member"])
	resp := doJSON(t, http.MethodGet, server.URL+fmt.Sprintf("/api/taskboard/%s", "tb%20bad!"), memberToken, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	fs := newFakeStore()
	server := newTestHTTPServer(t, fs)

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/ready")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
}
