// 文件: pkg/auth/auth.go
// 调用方身份校验
//
// 引擎在读取任何状态之前调用 Authorize(ctx, principal):
// 当前请求是否由 principal 签名 / 授权。
//
// 【实现】
// - ContextAuthorizer: 身份由入口层 (HTTP JWT 中间件) 放进 context
// - AllowAll:          测试 / 模拟, 一律放行

package auth

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Authorizer 身份校验接口
type Authorizer interface {
	Authorize(ctx context.Context, principal string) error
}

type principalKey struct{}

// WithPrincipal 把已认证身份放进 context
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom 取出已认证身份
func PrincipalFrom(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// ContextAuthorizer 要求 context 中的身份与 principal 一致
type ContextAuthorizer struct{}

func (ContextAuthorizer) Authorize(ctx context.Context, principal string) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no authenticated principal", ErrUnauthorized)
	}
	if p != principal {
		return fmt.Errorf("%w: %s cannot act for %s", ErrUnauthorized, p, principal)
	}
	return nil
}

// AllowAll 一律放行
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string) error { return nil }
