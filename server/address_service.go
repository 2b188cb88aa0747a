package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/rexx/vm"
	"github.com/chazu/rexx/vm/dist"
)

// AddressService exposes the server's registered ADDRESS targets to
// remote interpreters. A remote interpreter reaches them through a
// connect-kind target.
type AddressService struct {
	worker *ScriptWorker
}

// NewAddressService creates an AddressService.
func NewAddressService(worker *ScriptWorker) *AddressService {
	return &AddressService{worker: worker}
}

type sendOutcome struct {
	result vm.Result
	err    error
}

// Send dispatches one message to a registered target. The request and
// response layouts are those of dist.SendRequest and dist.EncodeResult.
func (s *AddressService) Send(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	send, err := dist.DecodeSendRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	value, err := s.worker.Do(func(reg *vm.TargetRegistry) interface{} {
		res, err := vm.NewRouter(reg).Dispatch(ctx, send.Target, send.Message, send.Vars, send.Meta)
		return &sendOutcome{result: res, err: err}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	outcome := value.(*sendOutcome)
	if outcome.err != nil {
		log.Debugf("send to %s failed: %v", send.Target, outcome.err)
		return nil, connect.NewError(sendErrorCode(outcome.err), outcome.err)
	}
	return connect.NewResponse(dist.EncodeResult(outcome.result)), nil
}

// List describes the registered targets. Response field targets is a list
// of {name, methods, metadata} records.
func (s *AddressService) List(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var targets []vm.Value
	for _, r := range s.worker.Registry().Registrations() {
		meta := make(map[string]vm.Value, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = vm.Str(v)
		}
		targets = append(targets, vm.Record(map[string]vm.Value{
			"name":     vm.Str(r.Name),
			"methods":  vm.FromGo(r.Methods),
			"metadata": vm.Record(meta),
		}))
	}
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"targets": dist.ToProto(vm.Array(targets...)),
	}}), nil
}

// sendErrorCode maps a dispatch error to a Connect code. Transient
// invalidations become Aborted so the calling interpreter may retry.
func sendErrorCode(err error) connect.Code {
	var (
		nf    *vm.NotFoundError
		undef *vm.UndefinedVariableError
	)
	switch {
	case errors.Is(err, vm.ErrTransientInvalidation):
		return connect.CodeAborted
	case errors.As(err, &nf):
		return connect.CodeNotFound
	case errors.As(err, &undef):
		return connect.CodeInvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	}
	return connect.CodeUnknown
}
