package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/CoderXiaopang/npm-meta/backend/internal/config"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestNew_BuildsRouterAndRoutes(t *testing.T) {
	srv, err := New(testDB(t), config.Config{
		Environment:   "test",
		NPMHost:       "localhost:81",
		SessionSecret: "test-secret",
	})
	require.NoError(t, err)
	require.NotNil(t, srv.Engine)

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNew_MissingFrontendDirIsIgnored(t *testing.T) {
	srv, err := New(testDB(t), config.Config{
		Environment:   "test",
		NPMHost:       "localhost:81",
		SessionSecret: "test-secret",
		FrontendDir:   "/does/not/exist",
	})
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", "/nope", nil)
	w := httptest.NewRecorder()
	srv.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
