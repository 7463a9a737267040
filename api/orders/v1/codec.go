package ordersv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// CodecName — content-subtype, под которым зарегистрирован Codec.
const CodecName = "json"

// Codec сериализует сообщения в JSON. Proto-сообщения (например, health)
// кодируются через protojson, остальные через encoding/json.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Name возвращает имя кодека.
func (Codec) Name() string {
	return CodecName
}

// Marshal кодирует сообщение.
func (Codec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return protojson.Marshal(msg)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal декодирует сообщение.
func (Codec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, msg)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal %T: %w", v, err)
	}
	return nil
}

// CallOption включает JSON-кодек для вызова.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
