package board

// 单条消息中点的上限，超出部分由服务端截断（不拒绝）
const MaxPointsPerBatch = 200

type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
)

// Point 画布坐标 + 采集时间戳（毫秒）。按到达顺序追加，不按 t 重排
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// StrokeMeta 开始一笔时客户端给出的样式
type StrokeMeta struct {
	Color string  `json:"color" validate:"required,hexcolor"`
	Size  float64 `json:"size" validate:"gt=0"`
	Tool  Tool    `json:"tool" validate:"required,oneof=pen eraser"`
}

// Stroke 一笔完整的笔画
// - ID 只由 Authority 分配，分配后不可变
// - Points 只增不减、不重排
// - Removed 是墓碑标记：撤销不删除数据，重做时还能恢复
type Stroke struct {
	ID       string  `json:"id"`
	AuthorID string  `json:"authorId"`
	Color    string  `json:"color"`
	Size     float64 `json:"size"`
	Tool     Tool    `json:"tool"`
	Points   []Point `json:"points"`
	Removed  bool    `json:"removed"`
}

// Clone 深拷贝，保证 Points 非 nil（序列化成 [] 而不是 null）
func (s *Stroke) Clone() Stroke {
	c := *s
	c.Points = make([]Point, len(s.Points))
	copy(c.Points, s.Points)
	return c
}

// RoomState 房间快照
type RoomState struct {
	Strokes    []Stroke            `json:"strokes"`
	UserStacks map[string][]string `json:"userStacks"`
}

// TruncateBatch 截断到 MaxPointsPerBatch
func TruncateBatch(points []Point) []Point {
	if len(points) > MaxPointsPerBatch {
		return points[:MaxPointsPerBatch]
	}
	return points
}
