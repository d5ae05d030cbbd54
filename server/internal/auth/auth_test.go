package auth

import (
	"context"
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"botstudio/server/internal/apperr"
)

func signToken(t *testing.T, secret string, claims gojwt.MapClaims) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// TestParseTokenExtractsScopes 验证合法 token 的 sub 与 scopes 被解成
// 类型化结构。
func TestParseTokenExtractsScopes(t *testing.T) {
	gate := NewJWTGate("secret")
	token := signToken(t, "secret", gojwt.MapClaims{
		"sub": "alice",
		"scopes": map[string]any{
			"p1": []any{CapResponsesRead, CapResponsesWrite},
		},
	})

	claims, err := gate.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject: want alice got %q", claims.Subject)
	}
	if !claims.Can(CapResponsesWrite, "p1") {
		t.Fatalf("expected responses:w on p1: %+v", claims.Scopes)
	}
	if claims.Can(CapProjectsWrite, "p1") {
		t.Fatalf("projects:w was never granted: %+v", claims.Scopes)
	}
}

// TestParseTokenRejectsBadSignature 验证签名不匹配时返回 PermissionError。
func TestParseTokenRejectsBadSignature(t *testing.T) {
	gate := NewJWTGate("secret")
	token := signToken(t, "wrong-secret", gojwt.MapClaims{"sub": "alice"})

	if _, err := gate.ParseToken(token); !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

// TestClaimsWildcardScope 验证 "*" 作用域覆盖任意项目。
func TestClaimsWildcardScope(t *testing.T) {
	claims := &Claims{Scopes: map[string][]string{
		"*": {CapResponsesRead},
	}}

	if !claims.Can(CapResponsesRead, "p1") || !claims.Can(CapResponsesRead, "p2") {
		t.Fatalf("wildcard scope must cover every project")
	}
	if claims.Can(CapResponsesWrite, "p1") {
		t.Fatalf("wildcard grants only what it lists")
	}

	var nilClaims *Claims
	if nilClaims.Can(CapResponsesRead, "p1") {
		t.Fatalf("nil claims must deny everything")
	}
}

// TestCheckIfCanUsesContextClaims 验证授权门从上下文读取 claims。
func TestCheckIfCanUsesContextClaims(t *testing.T) {
	gate := NewJWTGate("secret")

	if err := gate.CheckIfCan(context.Background(), CapResponsesRead, "p1"); !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("missing claims must deny, got %v", err)
	}

	ctx := WithClaims(context.Background(), &Claims{Scopes: map[string][]string{
		"p1": {CapResponsesWrite},
	}})
	if err := gate.CheckIfCan(ctx, CapResponsesWrite, "p1"); err != nil {
		t.Fatalf("granted capability denied: %v", err)
	}
	if err := gate.CheckIfCan(ctx, CapResponsesWrite, "p2"); !apperr.Is(err, apperr.CodePermission) {
		t.Fatalf("other project must deny, got %v", err)
	}
}
