package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newAuthRouter(t *testing.T, audience string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := NewVerifier("secret", audience)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	router := gin.New()
	router.GET("/me", verifier.Middleware(), func(c *gin.Context) {
		userID, _ := GetUserID(c.Request.Context())
		c.String(http.StatusOK, userID)
	})
	return router
}

func serve(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestMiddlewareStoresSubject(t *testing.T) {
	router := newAuthRouter(t, "")
	token := signToken(t, "secret", jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	resp := serve(router, "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "user-7" {
		t.Fatalf("unexpected subject %q", resp.Body.String())
	}
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	router := newAuthRouter(t, "gateway")
	valid := jwt.RegisteredClaims{
		Subject:   "user-7",
		Audience:  jwt.ClaimStrings{"gateway"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noSubject := valid
	noSubject.Subject = ""

	cases := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Basic abc",
		"empty token":     "Bearer  ",
		"wrong secret":    "Bearer " + signToken(t, "other", valid),
		"wrong audience":  "Bearer " + signToken(t, "secret", wrongAudience),
		"expired":         "Bearer " + signToken(t, "secret", expired),
		"missing subject": "Bearer " + signToken(t, "secret", noSubject),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			if resp := serve(router, header); resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}

	if resp := serve(router, "Bearer "+signToken(t, "secret", valid)); resp.Code != http.StatusOK {
		t.Fatalf("expected valid token to pass, got %d", resp.Code)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  ", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
