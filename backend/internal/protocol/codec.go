package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeInbound 先读 type，再按类型解码到具体结构并校验。
// 任何错误都属于 ParseFailure：调用方直接丢弃，不回复、不断开。
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg Inbound
	var err error
	switch env.Type {
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoom](data)
	case TypeBeginStroke:
		msg, err = decodeAs[BeginStroke](data)
	case TypeAddPoints:
		msg, err = decodeAs[AddPoints](data)
	case TypeEndStroke:
		msg, err = decodeAs[EndStroke](data)
	case TypeUndo:
		msg, err = decodeAs[Undo](data)
	case TypeRedo:
		msg, err = decodeAs[Redo](data)
	case TypeClear:
		msg, err = decodeAs[Clear](data)
	case TypeCursor:
		msg, err = decodeAs[Cursor](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAs[T Inbound](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode %s: %w", msg.MessageType(), err)
	}
	if err := validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %s: %v", ErrInvalid, msg.MessageType(), err)
	}
	return msg, nil
}

// DecodeServerMessage 客户端侧解码出站事件
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode server message: %w", err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrInvalid)
	}
	return msg, nil
}

func Encode(msg OutboundMessage) ([]byte, error) {
	return json.Marshal(msg)
}
