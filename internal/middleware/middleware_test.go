package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"promotion_engine/internal/domain"
	"promotion_engine/internal/testutil"
	"promotion_engine/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterPerCaller(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	clock := testutil.NewClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	rl.now = clock.Now
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id == "b" {
			c.Set("userID", uint(2))
		} else {
			c.Set("userID", uint(1))
		}
		c.Next()
	}, rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	require.Equal(t, http.StatusNoContent, hit("a"))
	require.Equal(t, http.StatusNoContent, hit("a"))
	require.Equal(t, http.StatusTooManyRequests, hit("a"))
	require.Equal(t, http.StatusNoContent, hit("b"))
}

func TestRateLimiterEvictsIdleCallers(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	clock := testutil.NewClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	rl.now = clock.Now
	rl.limiter("user:1")
	rl.limiter("user:2")
	clock.Advance(2 * visitorIdle)
	rl.limiter("user:2")
	require.Len(t, rl.visitors, 1)
	require.Contains(t, rl.visitors, "user:2")
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"payment_id":"pay_1"}`)
	sig := Sign("secret", body)
	require.True(t, VerifySignature("secret", body, sig))
	require.True(t, VerifySignature("secret", body, "sha256="+sig))
	require.False(t, VerifySignature("other", body, sig))
	require.False(t, VerifySignature("secret", []byte(`{"payment_id":"pay_2"}`), sig))
	require.False(t, VerifySignature("secret", body, "zz"))
	require.False(t, VerifySignature("", body, Sign("", body)))
}

func TestWebhookSignatureMiddlewareRestoresBody(t *testing.T) {
	r := gin.New()
	r.POST("/hook", WebhookSignatureMiddleware("secret"), func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(b))
	})
	body := []byte(`{"ok":true}`)

	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign("secret", body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(body), w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAndAdminMiddleware(t *testing.T) {
	db := testutil.NewDB(t)
	member := testutil.CreateUser(t, db, "member", domain.TierFree, 0)
	admin := testutil.CreateUser(t, db, "admin", domain.TierFree, 0)
	require.NoError(t, db.Model(&domain.User{}).Where("id = ?", admin.ID).Update("role", domain.RoleAdmin).Error)

	r := gin.New()
	r.GET("/admin", JWTAuthMiddleware("k"), AdminOnlyMiddleware(db), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	call := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	sign := func(id uint, secret string) string {
		tok, err := utils.GenerateJWT(id, secret)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusUnauthorized, call("Token abc"))
	require.Equal(t, http.StatusUnauthorized, call(sign(admin.ID, "wrong")))
	require.Equal(t, http.StatusForbidden, call(sign(member.ID, "k")))
	require.Equal(t, http.StatusForbidden, call(sign(4242, "k")))
	require.Equal(t, http.StatusNoContent, call(sign(admin.ID, "k")))
}

func TestRequestLoggerSetsID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("requestID")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	id := w.Header().Get(RequestIDHeader)
	require.Len(t, id, 36)
	require.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}
