package serde_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/get-eventually/eventledger/serde"
)

type state struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func TestJSONValueAndPointerTypes(t *testing.T) {
	byValue := serde.NewJSON(func() state { return state{} })

	data, err := byValue.Serialize(state{Owner: "alice", Balance: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"alice","balance":10}`, string(data))

	decoded, err := byValue.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, state{Owner: "alice", Balance: 10}, decoded)

	byPointer := serde.NewJSON(func() *state { return new(state) })

	decodedPtr, err := byPointer.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, &state{Owner: "alice", Balance: 10}, decodedPtr)

	_, err = byPointer.Deserialize([]byte("{"))
	assert.ErrorContains(t, err, "serde.JSON")
}

func TestProto(t *testing.T) {
	codec := serde.NewProto(func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) })

	data, err := codec.Serialize(wrapperspb.String("acme"))
	require.NoError(t, err)

	decoded, err := codec.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.String("acme"), decoded))
}

func TestChainedProtoJSON(t *testing.T) {
	toStruct := serde.Fuse[state, *structpb.Struct](
		serde.SerializerFunc[state, *structpb.Struct](func(s state) (*structpb.Struct, error) {
			return structpb.NewStruct(map[string]any{"owner": s.Owner, "balance": float64(s.Balance)})
		}),
		serde.DeserializerFunc[state, *structpb.Struct](func(s *structpb.Struct) (state, error) {
			return state{
				Owner:   s.Fields["owner"].GetStringValue(),
				Balance: int64(s.Fields["balance"].GetNumberValue()),
			}, nil
		}),
	)

	codec := serde.Chain[state, *structpb.Struct, []byte](
		toStruct,
		serde.NewProtoJSON(func() *structpb.Struct { return new(structpb.Struct) }),
	)

	data, err := codec.Serialize(state{Owner: "alice", Balance: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"alice","balance":3}`, string(data))

	decoded, err := codec.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, state{Owner: "alice", Balance: 3}, decoded)
}
