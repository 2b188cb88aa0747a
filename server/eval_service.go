package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/rexx/compiler"
	"github.com/chazu/rexx/vm"
	"github.com/chazu/rexx/vm/dist"
)

// EvalService implements the EvaluationService Connect handlers. Requests
// and responses are google.protobuf.Struct messages.
//
// Run request fields: source (required), filename, vars, trace,
// timeoutMs. Run response fields: runId, success, result, output, vars,
// error, errorKind, errorTrace, snapshot (base64 CBOR of a dist.Snapshot).
type EvalService struct {
	worker *ScriptWorker
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *ScriptWorker) *EvalService {
	return &EvalService{worker: worker}
}

// runOutcome is what a run produces on the worker goroutine.
type runOutcome struct {
	result   vm.Value
	output   string
	err      error
	snapshot *dist.Snapshot
}

// Run parses and executes a script in a fresh interpreter. Script errors
// are reported in the response; only malformed requests fail the call.
func (s *EvalService) Run(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	source := fields["source"].GetStringValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	filename := fields["filename"].GetStringValue()
	preload := dist.VarsFromProto(fields["vars"].GetStructValue())

	var opts []vm.Option
	if mode := fields["trace"].GetStringValue(); mode != "" {
		norm, ok := compiler.NormalizeTraceMode(mode)
		if !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown trace mode %q", mode))
		}
		opts = append(opts, vm.WithTrace(norm, 0))
	}
	if ms := fields["timeoutMs"].GetNumberValue(); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	runID := uuid.NewString()
	log.Infof("run %s: %s", runID, displayName(filename))

	value, err := s.worker.Do(func(*vm.TargetRegistry) interface{} {
		var out bytes.Buffer
		in := s.worker.Interpreter(&out, opts...)
		in.Vars().Load(preload)
		result, runErr := in.RunSource(ctx, filename, source)
		return &runOutcome{
			result:   result,
			output:   out.String(),
			err:      runErr,
			snapshot: dist.Capture(in, result, runErr),
		}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	outcome := value.(*runOutcome)

	encoded, err := dist.MarshalSnapshot(outcome.snapshot)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	vars := make(map[string]vm.Value, len(outcome.snapshot.Vars))
	for name, v := range outcome.snapshot.Vars {
		vars[name] = v.ToValue()
	}
	resp := &structpb.Struct{Fields: map[string]*structpb.Value{
		"runId":    structpb.NewStringValue(runID),
		"success":  structpb.NewBoolValue(outcome.err == nil),
		"result":   dist.ToProto(outcome.result),
		"output":   structpb.NewStringValue(outcome.output),
		"vars":     structpb.NewStructValue(dist.VarsToProto(vars)),
		"snapshot": structpb.NewStringValue(base64.StdEncoding.EncodeToString(encoded)),
	}}
	if outcome.err != nil {
		resp.Fields["error"] = structpb.NewStringValue(outcome.err.Error())
		resp.Fields["errorKind"] = structpb.NewStringValue(vm.ErrorKind(outcome.err))
		var ex *vm.ExecutionError
		if errors.As(outcome.err, &ex) {
			resp.Fields["errorTrace"] = structpb.NewStringValue(ex.Render())
		}
		log.Infof("run %s failed: %v", runID, outcome.err)
	}
	return connect.NewResponse(resp), nil
}

// CheckSyntax parses a script without running it. Response fields: valid,
// error, line, incomplete, labels.
func (s *EvalService) CheckSyntax(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source := req.Msg.GetFields()["source"].GetStringValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	resp := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	prog, err := compiler.Parse(source)
	if err != nil {
		var syn *compiler.SyntaxError
		if !errors.As(err, &syn) {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		resp.Fields["valid"] = structpb.NewBoolValue(false)
		resp.Fields["error"] = structpb.NewStringValue(syn.Reason)
		resp.Fields["line"] = structpb.NewNumberValue(float64(syn.Line))
		resp.Fields["incomplete"] = structpb.NewBoolValue(syn.Incomplete)
		return connect.NewResponse(resp), nil
	}

	labels := &structpb.ListValue{}
	for _, l := range scanLabels(prog) {
		labels.Values = append(labels.Values, structpb.NewStringValue(l.Name))
	}
	resp.Fields["valid"] = structpb.NewBoolValue(true)
	resp.Fields["labels"] = structpb.NewListValue(labels)
	return connect.NewResponse(resp), nil
}

func displayName(filename string) string {
	if filename == "" {
		return "<source>"
	}
	return filename
}
