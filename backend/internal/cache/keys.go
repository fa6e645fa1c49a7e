package cache

import "fmt"

// 键语义：
// - roomKey(roomID):   房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - connsKey(roomID):  房间内 userId -> 连接数（Hash），同一用户多标签页时只在最后一个连接离开后移除
// - roomsKey():        有过成员的房间索引（Set<roomID>）

// {} 包住 roomID 作为 hash tag，保证同一房间的 key 落在同一个 slot，Lua 脚本在集群下可用
const (
	keyRoomFmt  = "board:presence:room:{room:%s}"      // ZSet<userId, expireAtUnix>
	keyConnsFmt = "board:presence:room:conns:{room:%s}" // Hash<userId -> connCount>
	keyRoomsSet = "board:presence:rooms"                // Set<roomID>
)

func roomKey(roomID string) string  { return fmt.Sprintf(keyRoomFmt, roomID) }
func connsKey(roomID string) string { return fmt.Sprintf(keyConnsFmt, roomID) }
func roomsKey() string              { return keyRoomsSet }
