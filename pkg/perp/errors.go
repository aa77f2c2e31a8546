// 文件: pkg/perp/errors.go
// 错误定义
//
// 【分类】
// - Precondition:  调用参数错误, 修正后可重试
// - State:         当前状态不允许, 之后可能可以
// - External:      外部依赖 (预言机) 暂时不可用
// - Safety:        溢出 / 滑点, 整个操作作废
// - Authorization: 身份校验失败, 未读取任何状态

package perp

import (
	"errors"
	"fmt"

	"flash.com/pkg/fixed"
)

// Class 错误类别
type Class int

const (
	ClassUnknown Class = iota
	ClassPrecondition
	ClassState
	ClassExternal
	ClassSafety
	ClassAuthorization
)

func (c Class) String() string {
	switch c {
	case ClassPrecondition:
		return "precondition"
	case ClassState:
		return "state"
	case ClassExternal:
		return "external"
	case ClassSafety:
		return "safety"
	case ClassAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error 带类别的业务错误
type Error struct {
	Code  string
	Class Class
}

func (e *Error) Error() string {
	return "perp: " + e.Code
}

func newError(code string, class Class) *Error {
	return &Error{Code: code, Class: class}
}

var (
	ErrNotInitialized     = newError("not initialized", ClassPrecondition)
	ErrAlreadyInitialized = newError("already initialized", ClassPrecondition)
	ErrInvalidAmount      = newError("invalid amount", ClassPrecondition)
	ErrZeroAmount         = newError("zero amount", ClassPrecondition)
	ErrInvalidSymbol      = newError("invalid symbol", ClassPrecondition)
	ErrSelfLiquidation    = newError("self liquidation", ClassPrecondition)

	ErrPositionNotFound       = newError("position not found", ClassState)
	ErrInsufficientCollateral = newError("insufficient collateral", ClassState)
	ErrBelowMaintenanceMargin = newError("position above maintenance margin", ClassState)
	ErrPaused                 = newError("paused", ClassState)

	ErrOracleUnavailable = newError("oracle unavailable", ClassExternal)
	ErrOracleStale       = newError("oracle price stale", ClassExternal)

	ErrOverflow         = newError("arithmetic overflow", ClassSafety)
	ErrSlippageExceeded = newError("slippage exceeded", ClassSafety)

	ErrUnauthorized = newError("unauthorized", ClassAuthorization)
)

// ClassOf 取错误类别, 非业务错误返回 ClassUnknown
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassUnknown
}

// arith 把 fixed 包的错误统一成 ErrOverflow
func arith(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fixed.ErrOverflow) || errors.Is(err, fixed.ErrDivByZero) || errors.Is(err, fixed.ErrOutOfRange) {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return err
}
