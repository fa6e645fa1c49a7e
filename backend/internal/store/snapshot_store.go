package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabBoard/backend/internal/board"
)

// BoardSnapshot 房间导出记录。只写不读回：进程重启后不会用它恢复房间
type BoardSnapshot struct {
	ID          uint64 `gorm:"primaryKey"`
	RoomID      string `gorm:"size:128;not null;uniqueIndex:idx_room_seq"`
	Seq         uint64 `gorm:"not null;uniqueIndex:idx_room_seq"`
	StrokeCount int    `gorm:"not null"`
	Content     string `gorm:"type:longtext;not null"`
	CreatedAt   time.Time
}

func (BoardSnapshot) TableName() string { return "board_snapshots" }

type SnapshotStore struct{ db *gorm.DB }

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveRoomSnapshot 同一房间同一 seq 重复导出视为成功（唯一索引冲突 1062）
func (s *SnapshotStore) SaveRoomSnapshot(ctx context.Context, roomID string, seq uint64, state board.RoomState) error {
	content, err := json.Marshal(state)
	if err != nil {
		return err
	}
	row := &BoardSnapshot{
		RoomID:      roomID,
		Seq:         seq,
		StrokeCount: len(state.Strokes),
		Content:     string(content),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return nil
		}
		return err
	}
	return nil
}

// LatestSnapshot 最近一次导出，供查询导出历史
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, roomID string) (*BoardSnapshot, error) {
	var row BoardSnapshot
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
