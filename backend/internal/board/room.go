package board

// Room 单个房间的状态：按创建顺序排列的笔画 + 每个用户的撤销栈。
// Room 没有锁，只允许 Authority 的事件循环访问（单写者）。
type Room struct {
	id      string
	strokes []*Stroke
	// strokeID -> stroke，加速 addPoints/undo 查找
	index map[string]*Stroke
	// userID -> 可撤销的 strokeID 栈（栈顶在末尾）
	userStacks map[string][]string
}

func newRoom(id string) *Room {
	return &Room{
		id:         id,
		index:      make(map[string]*Stroke),
		userStacks: make(map[string][]string),
	}
}

func (r *Room) ID() string { return r.id }

// Len 笔画数量（包含墓碑）
func (r *Room) Len() int { return len(r.strokes) }

// Snapshot 返回深拷贝，调用方可以随意持有
func (r *Room) Snapshot() RoomState {
	st := RoomState{
		Strokes:    make([]Stroke, 0, len(r.strokes)),
		UserStacks: make(map[string][]string, len(r.userStacks)),
	}
	for _, s := range r.strokes {
		st.Strokes = append(st.Strokes, s.Clone())
	}
	for uid, stack := range r.userStacks {
		cp := make([]string, len(stack))
		copy(cp, stack)
		st.UserStacks[uid] = cp
	}
	return st
}

// Stroke 按 id 查找，返回拷贝
func (r *Room) Stroke(id string) (Stroke, bool) {
	s, ok := r.index[id]
	if !ok {
		return Stroke{}, false
	}
	return s.Clone(), true
}

// BeginStroke 追加一条空笔画，并把 id 压入作者的撤销栈
func (r *Room) BeginStroke(id, userID string, meta StrokeMeta) Stroke {
	s := &Stroke{
		ID:       id,
		AuthorID: userID,
		Color:    meta.Color,
		Size:     meta.Size,
		Tool:     meta.Tool,
		Points:   []Point{},
	}
	r.strokes = append(r.strokes, s)
	r.index[id] = s
	r.userStacks[userID] = append(r.userStacks[userID], id)
	return s.Clone()
}

// AddPoints 追加一批点，返回实际应用的（截断后的）点。
// 笔画不存在或已被撤销时返回 false，什么都不做。
func (r *Room) AddPoints(strokeID string, points []Point) ([]Point, bool) {
	s, ok := r.index[strokeID]
	if !ok || s.Removed {
		return nil, false
	}
	batch := TruncateBatch(points)
	applied := make([]Point, len(batch))
	copy(applied, batch)
	s.Points = append(s.Points, applied...)
	return applied, true
}

// Undo 从用户栈顶开始弹出，直到找到一条可以撤销的笔画。
// 不存在或已经是墓碑的 id 直接丢弃，继续弹。
func (r *Room) Undo(userID string) (string, bool) {
	stack := r.userStacks[userID]
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		s, ok := r.index[id]
		if !ok || s.Removed {
			continue
		}
		s.Removed = true
		r.setStack(userID, stack)
		return id, true
	}
	r.setStack(userID, stack)
	return "", false
}

// Redo 没有独立的重做栈：按创建顺序倒序扫描，找到该用户最近“创建”的墓碑笔画。
// 注意是最近创建的，不是最近撤销的：A,B,C 连续撤销 C、B 后，redo 恢复的是 C。
func (r *Room) Redo(userID string) (Stroke, bool) {
	for i := len(r.strokes) - 1; i >= 0; i-- {
		s := r.strokes[i]
		if s.AuthorID != userID || !s.Removed {
			continue
		}
		s.Removed = false
		r.userStacks[userID] = append(r.userStacks[userID], s.ID)
		return s.Clone(), true
	}
	return Stroke{}, false
}

// Clear 整体替换，笔画和所有撤销栈一起清空
func (r *Room) Clear() {
	r.strokes = nil
	r.index = make(map[string]*Stroke)
	r.userStacks = make(map[string][]string)
}

func (r *Room) setStack(userID string, stack []string) {
	if len(stack) == 0 {
		delete(r.userStacks, userID)
		return
	}
	r.userStacks[userID] = stack
}
