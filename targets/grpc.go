package targets

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/vm"
)

func init() {
	RegisterKind("grpc", func(ctx context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error) {
		t, err := DialGRPC(def.Name, def.URL, def.Metadata["service"])
		if err != nil {
			return nil, nil, err
		}
		return t, t, nil
	})
}

// GRPCTarget calls unary methods on a gRPC server that exposes the
// reflection service. A message names the method as package.Service/Method
// and the request is filled from script variables whose names match the
// request's field names. A command Method(a, b) calls Method on the
// default service with the arguments assigned to the request fields in
// declaration order.
//
// The response message becomes RESULT as a record. Unavailable and
// Aborted statuses are reported as transient invalidations.
type GRPCTarget struct {
	Name string

	// Service is the fully qualified service used by command calls.
	Service string

	conn      *grpc.ClientConn
	refClient *grpcreflect.Client

	mu      sync.Mutex
	methods map[string]*desc.MethodDescriptor
}

// DialGRPC connects to the server at addr. The connection is made lazily
// on the first call.
func DialGRPC(name, addr, service string) (*GRPCTarget, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &GRPCTarget{
		Name:      name,
		Service:   service,
		conn:      conn,
		refClient: grpcreflect.NewClientV1Alpha(context.Background(), rpb.NewServerReflectionClient(conn)),
		methods:   make(map[string]*desc.MethodDescriptor),
	}, nil
}

// Handle implements vm.Target.
func (t *GRPCTarget) Handle(ctx context.Context, message string, vars map[string]vm.Value, meta vm.Meta) (vm.Result, error) {
	var fullMethod string
	if meta.Kind == vm.MetaCommand {
		service := meta.Metadata["service"]
		if service == "" {
			service = t.Service
		}
		if service == "" {
			return vm.Result{}, fmt.Errorf("%s: no service configured for command %s", t.Name, meta.Method)
		}
		fullMethod = service + "/" + meta.Method
	} else {
		fields := strings.Fields(message)
		if len(fields) != 1 {
			return vm.Result{}, fmt.Errorf("%s: expected package.Service/Method, got %q", t.Name, message)
		}
		fullMethod = fields[0]
	}

	md, err := t.resolveMethod(fullMethod)
	if err != nil {
		return vm.Result{}, t.classify(err)
	}
	if md.IsClientStreaming() || md.IsServerStreaming() {
		return vm.Result{}, fmt.Errorf("%s: %s is a streaming method", t.Name, fullMethod)
	}

	req := dynamic.NewMessage(md.GetInputType())
	if meta.Kind == vm.MetaCommand {
		err = paramsToProto(req, meta.Params)
	} else {
		err = varsToProto(req, vars)
	}
	if err != nil {
		return vm.Result{}, fmt.Errorf("%s: %s: %w", t.Name, fullMethod, err)
	}

	resp := dynamic.NewMessage(md.GetOutputType())
	path := "/" + md.GetService().GetFullyQualifiedName() + "/" + md.GetName()
	log.Debugf("%s: invoke %s", t.Name, path)
	if err := t.conn.Invoke(ctx, path, req, resp); err != nil {
		return vm.Result{}, t.classify(err)
	}

	out, err := protoToRecord(resp)
	if err != nil {
		return vm.Result{}, fmt.Errorf("%s: %s: %w", t.Name, fullMethod, err)
	}
	return vm.Result{Value: out, Message: fullMethod}, nil
}

// Close resets the reflection stream and closes the connection.
func (t *GRPCTarget) Close() error {
	t.refClient.Reset()
	return t.conn.Close()
}

// resolveMethod resolves "package.Service/Method" to its descriptor.
// Descriptors are cached for the life of the target.
func (t *GRPCTarget) resolveMethod(fullMethod string) (*desc.MethodDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if md, ok := t.methods[fullMethod]; ok {
		return md, nil
	}

	serviceName, methodName, ok := strings.Cut(fullMethod, "/")
	if !ok || serviceName == "" || methodName == "" {
		return nil, fmt.Errorf("invalid method %q (expected package.Service/Method)", fullMethod)
	}
	svc, err := t.refClient.ResolveService(serviceName)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve service %s: %w", serviceName, err)
	}
	md := svc.FindMethodByName(methodName)
	if md == nil {
		return nil, fmt.Errorf("method %s not found in service %s", methodName, serviceName)
	}
	t.methods[fullMethod] = md
	return md, nil
}

func (t *GRPCTarget) classify(err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.Aborted:
			return vm.NewTransientInvalidation(t.Name, err)
		}
	}
	return fmt.Errorf("%s: %w", t.Name, err)
}

// ---------------------------------------------------------------------------
// Message conversion: script values <-> protobuf
// ---------------------------------------------------------------------------

// varsToProto sets every request field that has a bound variable of the
// same name.
func varsToProto(msg *dynamic.Message, vars map[string]vm.Value) error {
	for _, field := range msg.GetMessageDescriptor().GetFields() {
		v, ok := vars[field.GetName()]
		if !ok {
			continue
		}
		if err := setField(msg, field, v); err != nil {
			return err
		}
	}
	return nil
}

// paramsToProto assigns params to the request fields in declaration order.
func paramsToProto(msg *dynamic.Message, params []vm.Value) error {
	fields := msg.GetMessageDescriptor().GetFields()
	if len(params) > len(fields) {
		return fmt.Errorf("%d arguments for %d fields", len(params), len(fields))
	}
	for i, v := range params {
		if err := setField(msg, fields[i], v); err != nil {
			return err
		}
	}
	return nil
}

func recordToProto(v vm.Value, md *desc.MessageDescriptor) (*dynamic.Message, error) {
	if v.Kind() != vm.KindRecord {
		return nil, fmt.Errorf("expected record for %s, got %s", md.GetFullyQualifiedName(), v.Kind())
	}
	msg := dynamic.NewMessage(md)
	for _, name := range v.Keys() {
		field := md.FindFieldByName(name)
		if field == nil {
			continue
		}
		fv, _ := v.Field(name)
		if err := setField(msg, field, fv); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func setField(msg *dynamic.Message, field *desc.FieldDescriptor, v vm.Value) error {
	pv, err := valueToProtoField(v, field)
	if err != nil {
		return fmt.Errorf("field %s: %w", field.GetName(), err)
	}
	if err := msg.TrySetField(field, pv); err != nil {
		return fmt.Errorf("setting field %s: %w", field.GetName(), err)
	}
	return nil
}

func valueToProtoField(v vm.Value, field *desc.FieldDescriptor) (interface{}, error) {
	if field.IsMap() {
		if v.Kind() != vm.KindRecord {
			return nil, fmt.Errorf("expected record for map field")
		}
		out := make(map[interface{}]interface{}, v.Len())
		for _, k := range v.Keys() {
			fv, _ := v.Field(k)
			pv, err := valueToProtoScalar(fv, field.GetMapValueType())
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", k, err)
			}
			out[k] = pv
		}
		return out, nil
	}
	if field.IsRepeated() {
		elems := []vm.Value{v}
		if v.Kind() == vm.KindArray {
			elems = v.Elems()
		}
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			pv, err := valueToProtoScalar(e, field)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i+1, err)
			}
			out[i] = pv
		}
		return out, nil
	}
	return valueToProtoScalar(v, field)
}

func valueToProtoScalar(v vm.Value, field *desc.FieldDescriptor) (interface{}, error) {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return v.String(), nil
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return []byte(v.String()), nil
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if b, ok := v.Truth(); ok {
			return b, nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		return recordToProto(v, field.GetMessageType())
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if n, ok := v.Number(); ok {
			return int32(n), nil
		}
		if ev := field.GetEnumType().FindValueByName(v.String()); ev != nil {
			return ev.GetNumber(), nil
		}
		return nil, fmt.Errorf("unknown %s value %q", field.GetEnumType().GetName(), v.String())
	default:
		n, ok := v.Number()
		if !ok {
			break
		}
		switch field.GetType() {
		case descriptorpb.FieldDescriptorProto_TYPE_INT32,
			descriptorpb.FieldDescriptorProto_TYPE_SINT32,
			descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
			return int32(n), nil
		case descriptorpb.FieldDescriptorProto_TYPE_INT64,
			descriptorpb.FieldDescriptorProto_TYPE_SINT64,
			descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
			return int64(n), nil
		case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
			descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
			return uint32(n), nil
		case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
			descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
			return uint64(n), nil
		case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
			return float32(n), nil
		case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
			return n, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %q to proto type %v", v.String(), field.GetType())
}

// protoToRecord converts a response message to a record holding every set
// field. Enum values become their names.
func protoToRecord(msg *dynamic.Message) (vm.Value, error) {
	fields := make(map[string]vm.Value)
	for _, field := range msg.GetKnownFields() {
		if !msg.HasField(field) {
			continue
		}
		v, err := protoFieldToValue(msg.GetField(field), field)
		if err != nil {
			return vm.Undefined, fmt.Errorf("field %s: %w", field.GetName(), err)
		}
		fields[field.GetName()] = v
	}
	return vm.Record(fields), nil
}

func protoFieldToValue(val interface{}, field *desc.FieldDescriptor) (vm.Value, error) {
	if field.IsMap() {
		m, ok := val.(map[interface{}]interface{})
		if !ok {
			return vm.Undefined, fmt.Errorf("expected map, got %T", val)
		}
		out := make(map[string]vm.Value, len(m))
		for k, e := range m {
			ev, err := protoElementToValue(e, field.GetMapValueType())
			if err != nil {
				return vm.Undefined, err
			}
			out[fmt.Sprint(k)] = ev
		}
		return vm.Record(out), nil
	}
	if field.IsRepeated() {
		slice := reflect.ValueOf(val)
		elems := make([]vm.Value, slice.Len())
		for i := range elems {
			ev, err := protoElementToValue(slice.Index(i).Interface(), field)
			if err != nil {
				return vm.Undefined, err
			}
			elems[i] = ev
		}
		return vm.Array(elems...), nil
	}
	return protoElementToValue(val, field)
}

func protoElementToValue(val interface{}, field *desc.FieldDescriptor) (vm.Value, error) {
	switch x := val.(type) {
	case *dynamic.Message:
		return protoToRecord(x)
	case int32:
		if field.GetType() == descriptorpb.FieldDescriptorProto_TYPE_ENUM {
			if ev := field.GetEnumType().FindValueByNumber(x); ev != nil {
				return vm.Str(ev.GetName()), nil
			}
		}
		return vm.Num(float64(x)), nil
	case string, []byte, bool, int64, uint32, uint64, float32, float64:
		return vm.FromGo(x), nil
	}
	return vm.Undefined, fmt.Errorf("unsupported proto type: %v", field.GetType())
}
