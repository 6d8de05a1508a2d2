package cerbos

import (
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC method names of the Cerbos service.
const (
	methodCheckResources = "/cerbos.svc.v1.CerbosService/CheckResources"
	methodServerInfo     = "/cerbos.svc.v1.CerbosService/ServerInfo"
)

// Field numbers of the cerbos.request.v1, cerbos.response.v1 and
// cerbos.engine.v1 messages used by the client.
const (
	fieldCheckReqRequestID = 1
	fieldCheckReqPrincipal = 3
	fieldCheckReqResources = 4

	fieldEntryActions  = 1
	fieldEntryResource = 2

	fieldPrincipalID            = 1
	fieldPrincipalPolicyVersion = 2
	fieldPrincipalRoles         = 3
	fieldPrincipalAttr          = 4
	fieldPrincipalScope         = 5

	fieldResourceKind          = 1
	fieldResourcePolicyVersion = 2
	fieldResourceID            = 3
	fieldResourceAttr          = 4
	fieldResourceScope         = 5

	fieldCheckRespRequestID = 1
	fieldCheckRespResults   = 2
	fieldCheckRespCallID    = 3

	fieldResultResource         = 1
	fieldResultActions          = 2
	fieldResultValidationErrors = 3

	fieldMetaID            = 1
	fieldMetaKind          = 2
	fieldMetaPolicyVersion = 3
	fieldMetaScope         = 4

	fieldValidationPath    = 1
	fieldValidationMessage = 2
	fieldValidationSource  = 3

	fieldServerInfoVersion   = 1
	fieldServerInfoCommit    = 2
	fieldServerInfoBuildDate = 3

	fieldMapKey   = 1
	fieldMapValue = 2
)

var effectNumbers = map[Effect]uint64{
	EffectUnspecified: 0,
	EffectAllow:       1,
	EffectDeny:        2,
	EffectNoMatch:     3,
}

var validationSources = []string{"SOURCE_UNSPECIFIED", "SOURCE_PRINCIPAL", "SOURCE_RESOURCE"}

func effectFromNumber(n uint64) Effect {
	for effect, num := range effectNumbers {
		if num == n {
			return effect
		}
	}
	return EffectUnspecified
}

func sourceNumber(source string) uint64 {
	for i, s := range validationSources {
		if s == source {
			return uint64(i)
		}
	}
	return 0
}

func sourceFromNumber(n uint64) string {
	if n < uint64(len(validationSources)) {
		return validationSources[n]
	}
	return validationSources[0]
}

// wireMessage is a message the wireCodec can carry.
type wireMessage interface {
	marshalWire() ([]byte, error)
	unmarshalWire(b []byte) error
}

// wireCodec is a gRPC codec for the hand-encoded Cerbos messages. It is
// registered under the "proto" content subtype so the server sees a
// regular protobuf call.
type wireCodec struct{}

// Marshal implements encoding.Codec.
func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("cerbos wire codec: cannot marshal %T", v)
	}
	return m.marshalWire()
}

// Unmarshal implements encoding.Codec.
func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("cerbos wire codec: cannot unmarshal into %T", v)
	}
	return m.unmarshalWire(data)
}

// Name implements encoding.Codec.
func (wireCodec) Name() string {
	return "proto"
}

// checkResourcesRequest is cerbos.request.v1.CheckResourcesRequest.
type checkResourcesRequest struct {
	input CheckInput
}

func (m *checkResourcesRequest) marshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, fieldCheckReqRequestID, m.input.RequestID)

	principal, err := marshalPrincipal(m.input.Principal)
	if err != nil {
		return nil, err
	}
	b = appendMessage(b, fieldCheckReqPrincipal, principal)

	for _, rc := range m.input.Resources {
		entry, err := marshalResourceEntry(rc)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, fieldCheckReqResources, entry)
	}
	return b, nil
}

func (m *checkResourcesRequest) unmarshalWire(b []byte) error {
	m.input = CheckInput{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == fieldCheckReqRequestID && typ == protowire.BytesType:
			m.input.RequestID = string(v)
		case num == fieldCheckReqPrincipal && typ == protowire.BytesType:
			p, err := unmarshalPrincipal(v)
			if err != nil {
				return err
			}
			m.input.Principal = p
		case num == fieldCheckReqResources && typ == protowire.BytesType:
			rc, err := unmarshalResourceEntry(v)
			if err != nil {
				return err
			}
			m.input.Resources = append(m.input.Resources, rc)
		}
		return nil
	})
}

// checkResourcesResponse is cerbos.response.v1.CheckResourcesResponse.
type checkResourcesResponse struct {
	result CheckResult
}

func (m *checkResourcesResponse) marshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, fieldCheckRespRequestID, m.result.RequestID)
	for _, res := range m.result.Results {
		if res == nil {
			continue
		}
		b = appendMessage(b, fieldCheckRespResults, marshalResult(res))
	}
	b = appendString(b, fieldCheckRespCallID, m.result.CallID)
	return b, nil
}

func (m *checkResourcesResponse) unmarshalWire(b []byte) error {
	m.result = CheckResult{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == fieldCheckRespRequestID && typ == protowire.BytesType:
			m.result.RequestID = string(v)
		case num == fieldCheckRespResults && typ == protowire.BytesType:
			res, err := unmarshalResult(v)
			if err != nil {
				return err
			}
			m.result.Results = append(m.result.Results, res)
		case num == fieldCheckRespCallID && typ == protowire.BytesType:
			m.result.CallID = string(v)
		}
		return nil
	})
}

// serverInfoRequest is the empty cerbos.request.v1.ServerInfoRequest.
type serverInfoRequest struct{}

func (*serverInfoRequest) marshalWire() ([]byte, error) { return nil, nil }

func (*serverInfoRequest) unmarshalWire([]byte) error { return nil }

// serverInfoResponse is cerbos.response.v1.ServerInfoResponse.
type serverInfoResponse struct {
	info ServerInfo
}

func (m *serverInfoResponse) marshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, fieldServerInfoVersion, m.info.Version)
	b = appendString(b, fieldServerInfoCommit, m.info.Commit)
	b = appendString(b, fieldServerInfoBuildDate, m.info.BuildDate)
	return b, nil
}

func (m *serverInfoResponse) unmarshalWire(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldServerInfoVersion:
			m.info.Version = string(v)
		case fieldServerInfoCommit:
			m.info.Commit = string(v)
		case fieldServerInfoBuildDate:
			m.info.BuildDate = string(v)
		}
		return nil
	})
}

func marshalPrincipal(p *Principal) ([]byte, error) {
	if p == nil {
		return nil, ErrInvalidPrincipal
	}
	var b []byte
	b = appendString(b, fieldPrincipalID, p.ID)
	b = appendString(b, fieldPrincipalPolicyVersion, p.PolicyVersion)
	for _, role := range p.Roles {
		b = protowire.AppendTag(b, fieldPrincipalRoles, protowire.BytesType)
		b = protowire.AppendString(b, role)
	}
	b, err := appendAttributes(b, fieldPrincipalAttr, p.Attributes)
	if err != nil {
		return nil, fmt.Errorf("principal %q: %w", p.ID, err)
	}
	b = appendString(b, fieldPrincipalScope, p.Scope)
	return b, nil
}

func unmarshalPrincipal(b []byte) (*Principal, error) {
	p := &Principal{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldPrincipalID:
			p.ID = string(v)
		case fieldPrincipalPolicyVersion:
			p.PolicyVersion = string(v)
		case fieldPrincipalRoles:
			p.Roles = append(p.Roles, string(v))
		case fieldPrincipalAttr:
			return decodeAttribute(v, &p.Attributes)
		case fieldPrincipalScope:
			p.Scope = string(v)
		}
		return nil
	})
	return p, err
}

func marshalResourceEntry(rc *ResourceCheck) ([]byte, error) {
	if rc == nil || rc.Resource == nil {
		return nil, ErrInvalidResource
	}
	var b []byte
	for _, action := range rc.Actions {
		b = protowire.AppendTag(b, fieldEntryActions, protowire.BytesType)
		b = protowire.AppendString(b, action)
	}

	r := rc.Resource
	var rb []byte
	rb = appendString(rb, fieldResourceKind, r.Kind)
	rb = appendString(rb, fieldResourcePolicyVersion, r.PolicyVersion)
	rb = appendString(rb, fieldResourceID, r.ID)
	rb, err := appendAttributes(rb, fieldResourceAttr, r.Attributes)
	if err != nil {
		return nil, fmt.Errorf("resource %s:%s: %w", r.Kind, r.ID, err)
	}
	rb = appendString(rb, fieldResourceScope, r.Scope)

	return appendMessage(b, fieldEntryResource, rb), nil
}

func unmarshalResourceEntry(b []byte) (*ResourceCheck, error) {
	rc := &ResourceCheck{Resource: &Resource{}}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldEntryActions:
			rc.Actions = append(rc.Actions, string(v))
		case fieldEntryResource:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if typ != protowire.BytesType {
					return nil
				}
				switch num {
				case fieldResourceKind:
					rc.Resource.Kind = string(v)
				case fieldResourcePolicyVersion:
					rc.Resource.PolicyVersion = string(v)
				case fieldResourceID:
					rc.Resource.ID = string(v)
				case fieldResourceAttr:
					return decodeAttribute(v, &rc.Resource.Attributes)
				case fieldResourceScope:
					rc.Resource.Scope = string(v)
				}
				return nil
			})
		}
		return nil
	})
	return rc, err
}

func marshalResult(res *ResourceResult) []byte {
	var meta []byte
	meta = appendString(meta, fieldMetaID, res.Resource.ID)
	meta = appendString(meta, fieldMetaKind, res.Resource.Kind)
	meta = appendString(meta, fieldMetaPolicyVersion, res.Resource.PolicyVersion)
	meta = appendString(meta, fieldMetaScope, res.Resource.Scope)

	var b []byte
	b = appendMessage(b, fieldResultResource, meta)

	for _, action := range sortedKeys(res.Actions) {
		var entry []byte
		entry = appendString(entry, fieldMapKey, action)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.VarintType)
		entry = protowire.AppendVarint(entry, effectNumbers[res.Actions[action]])
		b = appendMessage(b, fieldResultActions, entry)
	}

	for _, ve := range res.ValidationErrors {
		var vb []byte
		vb = appendString(vb, fieldValidationPath, ve.Path)
		vb = appendString(vb, fieldValidationMessage, ve.Message)
		if n := sourceNumber(ve.Source); n != 0 {
			vb = protowire.AppendTag(vb, fieldValidationSource, protowire.VarintType)
			vb = protowire.AppendVarint(vb, n)
		}
		b = appendMessage(b, fieldResultValidationErrors, vb)
	}
	return b
}

func unmarshalResult(b []byte) (*ResourceResult, error) {
	res := &ResourceResult{Actions: make(map[string]Effect)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldResultResource:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				if typ != protowire.BytesType {
					return nil
				}
				switch num {
				case fieldMetaID:
					res.Resource.ID = string(v)
				case fieldMetaKind:
					res.Resource.Kind = string(v)
				case fieldMetaPolicyVersion:
					res.Resource.PolicyVersion = string(v)
				case fieldMetaScope:
					res.Resource.Scope = string(v)
				}
				return nil
			})
		case fieldResultActions:
			var action string
			var effect uint64
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
				switch {
				case num == fieldMapKey && typ == protowire.BytesType:
					action = string(v)
				case num == fieldMapValue && typ == protowire.VarintType:
					effect = n
				}
				return nil
			})
			if err != nil {
				return err
			}
			res.Actions[action] = effectFromNumber(effect)
		case fieldResultValidationErrors:
			var ve ValidationError
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
				switch {
				case num == fieldValidationPath && typ == protowire.BytesType:
					ve.Path = string(v)
				case num == fieldValidationMessage && typ == protowire.BytesType:
					ve.Message = string(v)
				case num == fieldValidationSource && typ == protowire.VarintType:
					ve.Source = sourceFromNumber(n)
				}
				return nil
			})
			if err != nil {
				return err
			}
			res.ValidationErrors = append(res.ValidationErrors, ve)
		}
		return nil
	})
	return res, err
}

// appendAttributes appends a map<string, google.protobuf.Value> field.
func appendAttributes(b []byte, num protowire.Number, attrs map[string]any) ([]byte, error) {
	for _, key := range sortedKeys(attrs) {
		value, err := toProtoValue(attrs[key])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		encoded, err := proto.MarshalOptions{Deterministic: true}.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		var entry []byte
		entry = appendString(entry, fieldMapKey, key)
		entry = appendMessage(entry, fieldMapValue, encoded)
		b = appendMessage(b, num, entry)
	}
	return b, nil
}

// decodeAttribute decodes one map entry into attrs.
func decodeAttribute(b []byte, attrs *map[string]any) error {
	var key string
	var value *structpb.Value
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldMapKey:
			key = string(v)
		case fieldMapValue:
			value = &structpb.Value{}
			return proto.Unmarshal(v, value)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if *attrs == nil {
		*attrs = make(map[string]any)
	}
	(*attrs)[key] = value.AsInterface()
	return nil
}

// toProtoValue converts v to a structpb.Value. Types structpb does not know
// (typed slices, structs) go through a JSON round trip first.
func toProtoValue(v any) (*structpb.Value, error) {
	value, err := structpb.NewValue(v)
	if err == nil {
		return value, nil
	}

	raw, jerr := json.Marshal(v)
	if jerr != nil {
		return nil, err
	}
	var generic any
	if jerr = json.Unmarshal(raw, &generic); jerr != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// walkFields calls fn for every field in b. Length-delimited fields are
// passed as v and varints as n; other wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[m:]
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
