package serde

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

func bytesSerde[T any](
	name string,
	marshal func(T) ([]byte, error),
	unmarshal func([]byte, *T) error,
	factory func() T,
) Fused[T, []byte] {
	serializer := SerializerFunc[T, []byte](func(t T) ([]byte, error) {
		data, err := marshal(t)
		if err != nil {
			return nil, fmt.Errorf("serde.%s: failed to serialize data, %w", name, err)
		}

		return data, nil
	})

	deserializer := DeserializerFunc[T, []byte](func(data []byte) (T, error) {
		var zeroValue T

		model := factory()
		if err := unmarshal(data, &model); err != nil {
			return zeroValue, fmt.Errorf("serde.%s: failed to deserialize data, %w", name, err)
		}

		return model, nil
	})

	return Fuse[T, []byte](serializer, deserializer)
}

// NewJSON returns a new serde instance where some data (`T`) gets serialized to
// and deserialized from JSON as byte-array.
func NewJSON[T any](factory func() T) Fused[T, []byte] {
	return bytesSerde("JSON",
		func(t T) ([]byte, error) { return json.Marshal(t) },
		func(data []byte, t *T) error { return json.Unmarshal(data, t) },
		factory,
	)
}

// NewProto returns a new serde instance where some data (`T`) gets serialized to
// and deserialized from a Protobuf byte-array.
func NewProto[T proto.Message](factory func() T) Fused[T, []byte] {
	return bytesSerde("Proto",
		func(t T) ([]byte, error) { return proto.Marshal(t) },
		func(data []byte, t *T) error { return proto.Unmarshal(data, *t) },
		factory,
	)
}

// NewProtoJSON returns a new serde instance where some data (`T`) gets serialized to
// and deserialized from Protobuf JSON.
func NewProtoJSON[T proto.Message](factory func() T) Fused[T, []byte] {
	return bytesSerde("ProtoJSON",
		func(t T) ([]byte, error) { return protojson.Marshal(t) },
		func(data []byte, t *T) error { return protojson.Unmarshal(data, *t) },
		factory,
	)
}
