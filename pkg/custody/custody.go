// 文件: pkg/custody/custody.go
// 抵押品托管
//
// 引擎不直接持有代币，只通过 Custodian 接口:
// - TransferFrom: 用户 -> 金库 (入金)
// - Transfer:     金库 -> 用户 (出金)

package custody

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	ErrInvalidAmount     = errors.New("custody: invalid amount")
)

// DefaultVault 默认金库账户
const DefaultVault = "perp-vault"

// Custodian 托管接口
type Custodian interface {
	TransferFrom(ctx context.Context, token, owner string, amount int64) error
	Transfer(ctx context.Context, token, recipient string, amount int64) error
}

// =============================================================================
// Memory - 内存托管 (测试 / 模拟)
// =============================================================================

// Memory 内存托管
type Memory struct {
	mu       sync.Mutex
	vault    string
	balances map[string]map[string]int64 // token -> owner -> amount
	failNext error
}

var _ Custodian = (*Memory)(nil)

// NewMemory 创建内存托管
func NewMemory() *Memory {
	return &Memory{
		vault:    DefaultVault,
		balances: make(map[string]map[string]int64),
	}
}

// Mint 凭空发放余额
func (m *Memory) Mint(token, owner string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book(token)[owner] += amount
}

// Balance 查询余额
func (m *Memory) Balance(token, owner string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book(token)[owner]
}

// VaultBalance 金库余额
func (m *Memory) VaultBalance(token string) int64 {
	return m.Balance(token, m.vault)
}

// FailNext 下一次转账返回 err
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) TransferFrom(_ context.Context, token, owner string, amount int64) error {
	return m.move(token, owner, m.vault, amount)
}

func (m *Memory) Transfer(_ context.Context, token, recipient string, amount int64) error {
	return m.move(token, m.vault, recipient, amount)
}

func (m *Memory) move(token, from, to string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	book := m.book(token)
	if book[from] < amount {
		return ErrInsufficientFunds
	}
	book[from] -= amount
	book[to] += amount
	return nil
}

func (m *Memory) book(token string) map[string]int64 {
	b, ok := m.balances[token]
	if !ok {
		b = make(map[string]int64)
		m.balances[token] = b
	}
	return b
}
