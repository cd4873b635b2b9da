package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/utils"
)

func newRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationMiddleware(), AuthMiddleware(secret))
	r.GET("/read", func(c *gin.Context) {
		op, _ := utils.GetOperatorFromContext(c.Request.Context())
		c.String(http.StatusOK, op)
	})
	r.POST("/write", RequireRole(utils.RoleOperator), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("k")
	operator, _ := utils.JwtGenerate(secret, "alice", utils.RoleOperator, time.Minute)
	viewer, _ := utils.JwtGenerate(secret, "bob", utils.RoleViewer, time.Minute)

	cases := []struct {
		name   string
		secret []byte
		method string
		path   string
		header string
		value  string
		want   int
	}{
		{"auth disabled", nil, http.MethodPost, "/write", "", "", http.StatusNoContent},
		{"missing token", secret, http.MethodGet, "/read", "", "", http.StatusUnauthorized},
		{"bearer token", secret, http.MethodGet, "/read", "Authorization", "Bearer " + viewer, http.StatusOK},
		{"legacy token header", secret, http.MethodGet, "/read", "token", viewer, http.StatusOK},
		{"bad token", secret, http.MethodGet, "/read", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"viewer cannot write", secret, http.MethodPost, "/write", "Authorization", "Bearer " + viewer, http.StatusForbidden},
		{"operator can write", secret, http.MethodPost, "/write", "Authorization", "bearer " + operator, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		w := httptest.NewRecorder()
		newRouter(tc.secret).ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
		if w.Header().Get(CorrelationHeader) == "" {
			t.Fatalf("%s: expected correlation header", tc.name)
		}
	}
}

func TestCorrelationMiddleware_KeepsCallerId(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set(CorrelationHeader, "cid-123")
	w := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(w, req)
	if got := w.Header().Get(CorrelationHeader); got != "cid-123" {
		t.Fatalf("expected cid-123, got %q", got)
	}
}
