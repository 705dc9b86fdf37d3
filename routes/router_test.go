package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/basit/fileshare-workspaces/auth"
	"github.com/basit/fileshare-workspaces/handlers"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/services"
	"github.com/basit/fileshare-workspaces/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type server struct {
	t      *testing.T
	router *gin.Engine
	clock  *testClock
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	blobs, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	clock := &testClock{now: time.Now().UTC()}
	provider := auth.NewProvider(db, auth.NewTokenManager("test-secret", time.Hour, 24*time.Hour), log)
	opts := services.Options{
		DB:       db,
		Identity: provider,
		Blobs:    blobs,
		Clock:    clock,
		Logger:   log,
	}

	h := handlers.New(handlers.Config{
		DB:         db,
		Workspaces: services.NewWorkspaceService(opts),
		Files:      services.NewFileService(opts),
		Users:      provider,
		Logger:     log,
		BaseURL:    "http://files.test",
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := NewRouter(ctx, RouterConfig{Handler: h, Verifier: provider, Logger: log})
	return &server{t: t, router: router, clock: clock}
}

func (s *server) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) json(method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(data)
	}
	return s.do(method, path, token, body, "application/json")
}

func (s *server) upload(path, token, name, content string, fields map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", name)
	require.NoError(s.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, path, token, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type sessionResp struct {
	User        models.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}

func (s *server) register(name string) sessionResp {
	w := s.json(http.MethodPost, "/api/users", "", map[string]string{
		"name":     name,
		"email":    name + "@example.com",
		"password": "secret123",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var resp sessionResp
	decode(s.t, w, &resp)
	return resp
}

type workspaceResp struct {
	Workspace models.Workspace `json:"workspace"`
}

type fileResp struct {
	File      models.File `json:"file"`
	ShareLink string      `json:"shareLink"`
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthEndpoints(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")

	w := s.json(http.MethodPost, "/api/users", "", map[string]string{"name": "x", "email": "alice@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.json(http.MethodPost, "/api/users", "", map[string]string{"email": "not-an-email", "password": "1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var invalid struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &invalid)
	assert.Contains(t, invalid.Fields, "name")
	assert.Contains(t, invalid.Fields, "email")
	assert.Contains(t, invalid.Fields, "password")

	w = s.json(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.json(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/users/me", alice.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice@example.com")
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = s.do(http.MethodGet, "/api/users/me", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodGet, "/api/workspaces", "bogus", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkspaceMembershipFlow(t *testing.T) {
	s := newServer(t)
	alice, bob := s.register("alice"), s.register("bob")

	w := s.json(http.MethodPost, "/api/workspaces", alice.AccessToken, map[string]interface{}{"name": "Docs"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/api/workspaces", alice.AccessToken, map[string]interface{}{
		"name":        "Docs",
		"description": "Team documents",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created workspaceResp
	decode(t, w, &created)
	ws := created.Workspace
	require.Len(t, ws.AccessCode, 8)

	w = s.do(http.MethodPost, "/api/workspaces/join/zzzzzzzz", bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodPost, "/api/workspaces/join/"+ws.AccessCode, bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/api/workspaces/join/"+ws.AccessCode, bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/workspaces/"+ws.ID.String()+"/members", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodGet, "/api/workspaces/"+ws.ID.String()+"/members", bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var members struct {
		Members []services.MemberView `json:"members"`
	}
	decode(t, w, &members)
	require.Len(t, members.Members, 2)
	assert.Equal(t, "bob@example.com", members.Members[1].Email)

	memberPath := "/api/workspaces/" + ws.ID.String() + "/members/" + bob.User.ID.String()
	w = s.json(http.MethodPut, memberPath, alice.AccessToken, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.json(http.MethodPut, memberPath, bob.AccessToken, map[string]string{"role": "owner"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.json(http.MethodPut, memberPath, alice.AccessToken, map[string]string{"role": "owner"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var transferred workspaceResp
	decode(t, w, &transferred)
	assert.Equal(t, bob.User.ID, transferred.Workspace.OwnerID)

	alicePath := "/api/workspaces/" + ws.ID.String() + "/members/" + alice.User.ID.String()
	w = s.do(http.MethodDelete, "/api/workspaces/"+ws.ID.String()+"/members/"+bob.User.ID.String(), bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(http.MethodDelete, alicePath, alice.AccessToken, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/workspaces", alice.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Workspaces []models.Workspace `json:"workspaces"`
	}
	decode(t, w, &list)
	assert.Empty(t, list.Workspaces)

	w = s.do(http.MethodGet, "/api/workspaces/not-a-uuid", bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkspaceFileLifecycle(t *testing.T) {
	s := newServer(t)
	alice, bob := s.register("alice"), s.register("bob")

	w := s.json(http.MethodPost, "/api/workspaces", alice.AccessToken, map[string]interface{}{
		"name":        "Docs",
		"description": "Team documents",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created workspaceResp
	decode(t, w, &created)
	ws := created.Workspace

	w = s.json(http.MethodPost, "/api/workspaces/"+ws.ID.String()+"/invite", alice.AccessToken, map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.upload("/api/files/workspace/"+ws.ID.String(), bob.AccessToken, "plan.txt", "v1", map[string]string{"folder": "plans"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up fileResp
	decode(t, w, &up)
	f := up.File
	assert.Equal(t, "/plans", f.Folder)

	w = s.do(http.MethodGet, "/api/files/workspace/"+ws.ID.String()+"?folder=/plans", bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plan.txt")

	w = s.do(http.MethodGet, "/api/files/"+f.ID.String(), bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename=plan.txt`)

	w = s.json(http.MethodPut, "/api/files/"+f.ID.String(), bob.AccessToken, map[string]string{"name": "renamed.txt"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/files/"+f.ID.String(), bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodDelete, "/api/files/"+f.ID.String(), bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/files/workspace/"+ws.ID.String()+"/deleted", bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plan.txt")

	w = s.do(http.MethodPut, "/api/files/"+f.ID.String()+"/restore", bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPut, "/api/files/"+f.ID.String()+"/restore", bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/files/"+f.ID.String()+"/share", bob.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var share struct {
		ShareID   string `json:"shareId"`
		ShareLink string `json:"shareLink"`
	}
	decode(t, w, &share)
	assert.Equal(t, f.ShareID, share.ShareID)
	assert.Equal(t, "http://files.test/api/files/share/"+f.ShareID, share.ShareLink)

	w = s.do(http.MethodDelete, "/api/files/"+f.ID.String()+"/permanent", bob.AccessToken, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodDelete, "/api/files/"+f.ID.String()+"/permanent", alice.AccessToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/files/share/"+f.ShareID+"/info", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnonymousShareExpiry(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/files/anonymous", "", bytes.NewReader(nil), "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload("/api/files/anonymous", "", "hello.txt", "0123456789", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up fileResp
	decode(t, w, &up)
	shareID := up.File.ShareID
	assert.Equal(t, "http://files.test/api/files/share/"+shareID, up.ShareLink)

	s.clock.Advance(24*time.Hour - time.Second)
	w = s.do(http.MethodGet, "/api/files/share/"+shareID+"/info", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Name      string     `json:"name"`
		Size      int64      `json:"size"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	decode(t, w, &info)
	assert.Equal(t, "hello.txt", info.Name)
	assert.EqualValues(t, 10, info.Size)
	assert.NotNil(t, info.ExpiresAt)

	w = s.do(http.MethodGet, "/api/files/share/"+shareID, "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())

	w = s.do(http.MethodGet, "/api/files/share/"+shareID+"/qr", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	s.clock.Advance(2 * time.Second)
	w = s.do(http.MethodGet, "/api/files/share/"+shareID+"/info", "", nil, "")
	assert.Equal(t, http.StatusGone, w.Code)
	w = s.do(http.MethodGet, "/api/files/share/"+shareID, "", nil, "")
	assert.Equal(t, http.StatusGone, w.Code)

	w = s.do(http.MethodGet, "/api/files/share/unknown/info", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnonymousUploadWithBadTokenIsRejected(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice")

	w := s.upload("/api/files/anonymous", "not-a-jwt", "mine.txt", "data", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.upload("/api/files/anonymous", alice.AccessToken, "mine.txt", "data", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up fileResp
	decode(t, w, &up)
	require.NotNil(t, up.File.UploaderID)
	assert.Equal(t, alice.User.ID, *up.File.UploaderID)

	// share links still work without any header
	w = s.do(http.MethodGet, "/api/files/share/"+up.File.ShareID+"/info", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
