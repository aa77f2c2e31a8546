// 文件: pkg/store/key.go
// 持久化 Key 定义
//
// 【Key 格式】
// 全局:     admin / paused / collateral_token
// 按合约:   reserve/{symbol}  funding/{symbol}  net_oi/{symbol}  skew_scale/{symbol}
// 按用户:   collateral/{trader}
// 按持仓:   position/{symbol}/{trader}
//
// 不同类别的 Key 结构不同，绝不会互相冲突。

package store

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadKey = errors.New("store: malformed key")

// Tag Key 类别
type Tag uint8

const (
	TagAdmin Tag = iota + 1
	TagPaused
	TagCollateralToken
	TagReserve
	TagFunding
	TagNetOI
	TagSkewScale
	TagCollateral
	TagPosition
)

var tagNames = map[Tag]string{
	TagAdmin:           "admin",
	TagPaused:          "paused",
	TagCollateralToken: "collateral_token",
	TagReserve:         "reserve",
	TagFunding:         "funding",
	TagNetOI:           "net_oi",
	TagSkewScale:       "skew_scale",
	TagCollateral:      "collateral",
	TagPosition:        "position",
}

var tagByName = func() map[string]Tag {
	m := make(map[string]Tag, len(tagNames))
	for t, n := range tagNames {
		m[n] = t
	}
	return m
}()

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Global 是否为全局单例 Key
func (t Tag) Global() bool {
	return t == TagAdmin || t == TagPaused || t == TagCollateralToken
}

// Key 持久化 Key
type Key struct {
	Tag    Tag
	Symbol string
	Trader string
}

func AdminKey() Key           { return Key{Tag: TagAdmin} }
func PausedKey() Key          { return Key{Tag: TagPaused} }
func CollateralTokenKey() Key { return Key{Tag: TagCollateralToken} }

func ReserveKey(symbol string) Key   { return Key{Tag: TagReserve, Symbol: symbol} }
func FundingKey(symbol string) Key   { return Key{Tag: TagFunding, Symbol: symbol} }
func NetOIKey(symbol string) Key     { return Key{Tag: TagNetOI, Symbol: symbol} }
func SkewScaleKey(symbol string) Key { return Key{Tag: TagSkewScale, Symbol: symbol} }

func CollateralKey(trader string) Key { return Key{Tag: TagCollateral, Trader: trader} }

func PositionKey(symbol, trader string) Key {
	return Key{Tag: TagPosition, Symbol: symbol, Trader: trader}
}

// String 编码为字符串 Key
func (k Key) String() string {
	switch k.Tag {
	case TagReserve, TagFunding, TagNetOI, TagSkewScale:
		return k.Tag.String() + "/" + k.Symbol
	case TagCollateral:
		return k.Tag.String() + "/" + k.Trader
	case TagPosition:
		return k.Tag.String() + "/" + k.Symbol + "/" + k.Trader
	default:
		return k.Tag.String()
	}
}

// Prefix 某类 Key 的公共前缀 (用于扫描)
func (t Tag) Prefix() string {
	if t.Global() {
		return t.String()
	}
	return t.String() + "/"
}

// ParseKey 解析字符串 Key
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	tag, ok := tagByName[parts[0]]
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrBadKey, s)
	}

	k := Key{Tag: tag}
	switch {
	case tag.Global() && len(parts) == 1:
	case tag == TagCollateral && len(parts) == 2:
		k.Trader = parts[1]
	case tag == TagPosition && len(parts) == 3:
		k.Symbol, k.Trader = parts[1], parts[2]
	case !tag.Global() && tag != TagCollateral && tag != TagPosition && len(parts) == 2:
		k.Symbol = parts[1]
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrBadKey, s)
	}
	return k, nil
}
