package cerbos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestWire_CheckResourcesRequest(t *testing.T) {
	t.Parallel()

	in := CheckInput{
		RequestID: "req-1",
		Principal: NewPrincipal("alice", "user", "editor").
			WithAttr("teams", []string{"a", "b"}).
			WithAttr("level", 3).
			WithPolicyVersion("v1").
			WithScope("acme"),
		Resources: []*ResourceCheck{
			{
				Resource: NewResource("post", "42").WithAttr("owner", "alice").WithAttr("public", true),
				Actions:  []string{"read", "update"},
			},
			{
				Resource: NewResource("comment", "7"),
				Actions:  []string{"delete"},
			},
		},
	}

	encoded, err := wireCodec{}.Marshal(&checkResourcesRequest{input: in})
	require.NoError(t, err)

	var decoded checkResourcesRequest
	require.NoError(t, wireCodec{}.Unmarshal(encoded, &decoded))

	got := decoded.input
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "alice", got.Principal.ID)
	assert.Equal(t, []string{"user", "editor"}, got.Principal.Roles)
	assert.Equal(t, "v1", got.Principal.PolicyVersion)
	assert.Equal(t, "acme", got.Principal.Scope)
	assert.Equal(t, []any{"a", "b"}, got.Principal.Attributes["teams"])
	assert.Equal(t, float64(3), got.Principal.Attributes["level"])

	require.Len(t, got.Resources, 2)
	assert.Equal(t, []string{"read", "update"}, got.Resources[0].Actions)
	assert.Equal(t, "post", got.Resources[0].Resource.Kind)
	assert.Equal(t, "42", got.Resources[0].Resource.ID)
	assert.Equal(t, map[string]any{"owner": "alice", "public": true}, got.Resources[0].Resource.Attributes)
	assert.Equal(t, "comment", got.Resources[1].Resource.Kind)
	assert.Nil(t, got.Resources[1].Resource.Attributes)
}

func TestWire_CheckResourcesResponse(t *testing.T) {
	t.Parallel()

	result := CheckResult{
		RequestID: "req-1",
		CallID:    "call-1",
		Results: []*ResourceResult{
			{
				Resource: ResourceMeta{ID: "42", Kind: "post", PolicyVersion: "default", Scope: "acme"},
				Actions: map[string]Effect{
					"read":   EffectAllow,
					"update": EffectDeny,
					"share":  EffectNoMatch,
				},
				ValidationErrors: []ValidationError{
					{Path: "/owner", Message: "required", Source: "SOURCE_RESOURCE"},
				},
			},
		},
	}

	encoded, err := wireCodec{}.Marshal(&checkResourcesResponse{result: result})
	require.NoError(t, err)

	decoded := &checkResourcesResponse{}
	require.NoError(t, wireCodec{}.Unmarshal(encoded, decoded))

	assert.Equal(t, result, decoded.result)
}

func TestWire_ServerInfo(t *testing.T) {
	t.Parallel()

	info := ServerInfo{Version: "0.40.0", Commit: "abc", BuildDate: "2024-01-01"}

	encoded, err := wireCodec{}.Marshal(&serverInfoResponse{info: info})
	require.NoError(t, err)

	decoded := &serverInfoResponse{}
	require.NoError(t, wireCodec{}.Unmarshal(encoded, decoded))
	assert.Equal(t, info, decoded.info)

	empty, err := wireCodec{}.Marshal(&serverInfoRequest{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWire_SkipsUnknownFields(t *testing.T) {
	t.Parallel()

	var b []byte
	b = appendString(b, fieldServerInfoVersion, "1.0")
	b = protowire.AppendTag(b, 99, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 12345)
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = appendString(b, fieldServerInfoCommit, "abc")

	decoded := &serverInfoResponse{}
	require.NoError(t, decoded.unmarshalWire(b))
	assert.Equal(t, "1.0", decoded.info.Version)
	assert.Equal(t, "abc", decoded.info.Commit)
}

func TestWire_MalformedInput(t *testing.T) {
	t.Parallel()

	b := protowire.AppendTag(nil, fieldCheckRespResults, protowire.BytesType)
	b = protowire.AppendVarint(b, 100)

	assert.Error(t, (&checkResourcesResponse{}).unmarshalWire(b))
}

func TestWire_UnknownEffect(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EffectUnspecified, effectFromNumber(42))
	assert.Equal(t, EffectAllow, effectFromNumber(1))
	assert.Equal(t, "SOURCE_UNSPECIFIED", sourceFromNumber(9))
}

func TestWireCodec_RejectsForeignTypes(t *testing.T) {
	t.Parallel()

	codec := wireCodec{}
	assert.Equal(t, "proto", codec.Name())

	_, err := codec.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, codec.Unmarshal(nil, new(int)))
}

func TestToProtoValue(t *testing.T) {
	t.Parallel()

	type owner struct {
		Name string `json:"name"`
	}

	value, err := toProtoValue(owner{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "alice"}, value.AsInterface())

	_, err = toProtoValue(make(chan int))
	assert.Error(t, err)
}
