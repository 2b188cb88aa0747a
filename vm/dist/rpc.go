package dist

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/rexx/vm"
)

// Connect procedures served by the rexx server. Requests and responses are
// google.protobuf.Struct messages.
const (
	EvalRunProcedure         = "/rexx.v1.EvaluationService/Run"
	EvalCheckSyntaxProcedure = "/rexx.v1.EvaluationService/CheckSyntax"
	AddressSendProcedure     = "/rexx.v1.AddressService/Send"
	AddressListProcedure     = "/rexx.v1.AddressService/List"
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// ToProto converts a script value to a protobuf Value. Undefined becomes
// null.
func ToProto(v vm.Value) *structpb.Value {
	switch v.Kind() {
	case vm.KindString:
		return structpb.NewStringValue(v.String())
	case vm.KindNumber:
		n, _ := v.Number()
		return structpb.NewNumberValue(n)
	case vm.KindBool:
		b, _ := v.Truth()
		return structpb.NewBoolValue(b)
	case vm.KindRecord:
		s := &structpb.Struct{Fields: make(map[string]*structpb.Value, v.Len())}
		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			s.Fields[k] = ToProto(f)
		}
		return structpb.NewStructValue(s)
	case vm.KindArray:
		l := &structpb.ListValue{}
		for _, e := range v.Elems() {
			l.Values = append(l.Values, ToProto(e))
		}
		return structpb.NewListValue(l)
	}
	return structpb.NewNullValue()
}

// FromProto converts a protobuf Value to a script value.
func FromProto(p *structpb.Value) vm.Value {
	if p == nil {
		return vm.Undefined
	}
	switch k := p.Kind.(type) {
	case *structpb.Value_StringValue:
		return vm.Str(k.StringValue)
	case *structpb.Value_NumberValue:
		return vm.Num(k.NumberValue)
	case *structpb.Value_BoolValue:
		return vm.Bool(k.BoolValue)
	case *structpb.Value_StructValue:
		return vm.Record(VarsFromProto(k.StructValue))
	case *structpb.Value_ListValue:
		elems := make([]vm.Value, len(k.ListValue.GetValues()))
		for i, e := range k.ListValue.GetValues() {
			elems[i] = FromProto(e)
		}
		return vm.Array(elems...)
	}
	return vm.Undefined
}

// VarsToProto converts a variable snapshot to a Struct.
func VarsToProto(vars map[string]vm.Value) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(vars))}
	for name, v := range vars {
		s.Fields[name] = ToProto(v)
	}
	return s
}

// VarsFromProto converts a Struct to a variable map. Null fields are
// dropped.
func VarsFromProto(s *structpb.Struct) map[string]vm.Value {
	out := make(map[string]vm.Value, len(s.GetFields()))
	for name, p := range s.GetFields() {
		if v := FromProto(p); !v.IsUndefined() {
			out[name] = v
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// AddressService/Send
// ---------------------------------------------------------------------------

// SendRequest is the decoded form of an AddressService/Send request.
type SendRequest struct {
	Target  string
	Message string
	Vars    map[string]vm.Value
	Meta    vm.Meta
}

// Struct encodes the request.
func (r *SendRequest) Struct() *structpb.Struct {
	params := make([]vm.Value, len(r.Meta.Params))
	copy(params, r.Meta.Params)
	meta := map[string]vm.Value{
		"kind":     vm.Str(r.Meta.Kind),
		"method":   vm.Str(r.Meta.Method),
		"params":   vm.Array(params...),
		"pattern":  vm.Str(r.Meta.Pattern),
		"line":     vm.Num(float64(r.Meta.Line)),
		"source":   vm.Str(r.Meta.Source),
		"filename": vm.Str(r.Meta.Filename),
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"target":  structpb.NewStringValue(r.Target),
		"message": structpb.NewStringValue(r.Message),
		"vars":    structpb.NewStructValue(VarsToProto(r.Vars)),
		"meta":    structpb.NewStructValue(VarsToProto(meta)),
	}}
}

// DecodeSendRequest decodes an AddressService/Send request.
func DecodeSendRequest(s *structpb.Struct) (*SendRequest, error) {
	target := s.GetFields()["target"].GetStringValue()
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	req := &SendRequest{
		Target:  target,
		Message: s.GetFields()["message"].GetStringValue(),
		Vars:    VarsFromProto(s.GetFields()["vars"].GetStructValue()),
	}
	meta := s.GetFields()["meta"].GetStructValue().GetFields()
	req.Meta = vm.Meta{
		Kind:     meta["kind"].GetStringValue(),
		Method:   meta["method"].GetStringValue(),
		Pattern:  meta["pattern"].GetStringValue(),
		Line:     int(meta["line"].GetNumberValue()),
		Source:   meta["source"].GetStringValue(),
		Filename: meta["filename"].GetStringValue(),
	}
	if req.Meta.Kind == "" {
		req.Meta.Kind = vm.MetaMessage
	}
	for _, p := range meta["params"].GetListValue().GetValues() {
		req.Meta.Params = append(req.Meta.Params, FromProto(p))
	}
	return req, nil
}

// EncodeResult encodes a target result.
func EncodeResult(res vm.Result) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"rc":      structpb.NewNumberValue(float64(res.RC)),
		"value":   ToProto(res.Value),
		"message": structpb.NewStringValue(res.Message),
	}}
}

// DecodeResult decodes a target result.
func DecodeResult(s *structpb.Struct) vm.Result {
	f := s.GetFields()
	return vm.Result{
		RC:      int(f["rc"].GetNumberValue()),
		Value:   FromProto(f["value"]),
		Message: f["message"].GetStringValue(),
	}
}
