package protocol

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/inbound.schema.json
var inboundSchemaJSON string

// ErrInvalidMessage — входящее сообщение не прошло разбор или схему.
var ErrInvalidMessage = errors.New("invalid message")

// MessageSerializer разбирает входящие сообщения с проверкой по JSON Schema
// и сериализует исходящие.
type MessageSerializer struct {
	inbound *jsonschema.Schema
}

// NewMessageSerializer компилирует встроенную схему.
func NewMessageSerializer() (*MessageSerializer, error) {
	schema, err := jsonschema.CompileString("inbound.schema.json", inboundSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("ошибка компиляции схемы: %w", err)
	}
	return &MessageSerializer{inbound: schema}, nil
}

// Decode проверяет сообщение и возвращает его тип и сырые данные.
func (ms *MessageSerializer) Decode(data []byte) (MsgType, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := ms.inbound.Validate(doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return env.Type, nil
}

// DecodePlace разбирает запрос на размещение.
func (ms *MessageSerializer) DecodePlace(data []byte) (PlaceRequest, error) {
	t, err := ms.Decode(data)
	if err != nil {
		return PlaceRequest{}, err
	}
	if t != MsgPlace {
		return PlaceRequest{}, fmt.Errorf("%w: expected %q, got %q", ErrInvalidMessage, MsgPlace, t)
	}

	var req PlaceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return PlaceRequest{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return req, nil
}

// Encode сериализует исходящее сообщение.
func (ms *MessageSerializer) Encode(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}
	return data, nil
}
