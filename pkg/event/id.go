// 文件: pkg/event/id.go
// 事件 ID 生成 (雪花算法)
// 使用开源库: github.com/bwmarrin/snowflake

package event

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeErr  error
	nodeOnce sync.Once
)

// InitNode 设置本进程的节点号 (0-1023), 只有第一次调用生效
func InitNode(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// NextID 生成事件 ID, 未初始化时使用节点 0
func NextID() int64 {
	if err := InitNode(0); err != nil || node == nil {
		return 0
	}
	return node.Generate().Int64()
}
