// Package auth 是授权门：每个写操作和大多数读操作执行前，
// 先按 (capability, projectId) 检查，拒绝则整个操作在任何存储/广播
// 副作用之前失败。
package auth

import (
	"context"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"

	"botstudio/server/internal/apperr"
)

// 能力标识。读写分离，响应与项目配置分离。
const (
	CapResponsesRead  = "responses:r"
	CapResponsesWrite = "responses:w"
	CapProjectsWrite  = "projects:w"
)

// Gate 是授权检查的窄接口。
type Gate interface {
	// CheckIfCan 检查当前调用方在 projectID 上是否具备 capability，
	// 不具备时返回 PermissionError。
	CheckIfCan(ctx context.Context, capability, projectID string) error
}

// AllowAll 放行一切，开发模式与测试用。
type AllowAll struct{}

func (AllowAll) CheckIfCan(context.Context, string, string) error { return nil }

// Claims 是从 Bearer token 里解出的调用方授权信息。
// Scopes 按 projectId 组织能力列表，"*" 表示全项目通配。
type Claims struct {
	Subject string
	Scopes  map[string][]string
}

// Can 判断 claims 是否覆盖 (capability, projectID)。
func (c *Claims) Can(capability, projectID string) bool {
	if c == nil {
		return false
	}
	for _, scope := range []string{projectID, "*"} {
		for _, granted := range c.Scopes[scope] {
			if granted == capability {
				return true
			}
		}
	}
	return false
}

type claimsKey struct{}

// WithClaims 把 claims 挂到请求上下文，由 API 层的中间件调用。
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom 取出上下文里的 claims，没有时返回 nil。
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// JWTGate 用 HMAC 密钥校验 Bearer token，按 token 里的 scopes 授权。
type JWTGate struct {
	secret []byte
}

func NewJWTGate(secret string) *JWTGate {
	return &JWTGate{secret: []byte(secret)}
}

// ParseToken 校验签名并把 claims 解成类型化结构。
func (g *JWTGate) ParseToken(token string) (*Claims, error) {
	parsed, err := gojwt.Parse(token, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, apperr.Permissionf("invalid token: %v", err)
	}

	mapClaims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, apperr.Permissionf("unexpected claims shape")
	}

	claims := &Claims{Scopes: make(map[string][]string)}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	if scopes, ok := mapClaims["scopes"].(map[string]any); ok {
		for projectID, caps := range scopes {
			list, ok := caps.([]any)
			if !ok {
				continue
			}
			for _, granted := range list {
				if capStr, ok := granted.(string); ok {
					claims.Scopes[projectID] = append(claims.Scopes[projectID], capStr)
				}
			}
		}
	}
	return claims, nil
}

func (g *JWTGate) CheckIfCan(ctx context.Context, capability, projectID string) error {
	claims := ClaimsFrom(ctx)
	if claims == nil {
		return apperr.Permissionf("missing credentials")
	}
	if !claims.Can(capability, projectID) {
		return apperr.Permissionf("missing capability %q on project %q", capability, projectID)
	}
	return nil
}
