package targets

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/chazu/rexx/vm"
)

// startHealthServer serves the standard health service with reflection on
// a loopback port.
func startHealthServer(t *testing.T) (string, *grpc.Server) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("svc", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	go s.Serve(lis)
	t.Cleanup(s.Stop)
	return lis.Addr().String(), s
}

func dialHealth(t *testing.T, addr string) *GRPCTarget {
	t.Helper()
	target, err := DialGRPC("health", addr, "grpc.health.v1.Health")
	if err != nil {
		t.Fatalf("DialGRPC: %v", err)
	}
	t.Cleanup(func() { target.Close() })
	return target
}

func TestGRPCTarget_Message(t *testing.T) {
	addr, _ := startHealthServer(t)
	in, out := newScript(t, "health", dialHealth(t, addr))

	_, err := in.RunSource(context.Background(), "health.rexx", `ADDRESS health "grpc.health.v1.Health/Check"
SAY RESULT.status
service = "svc"
ADDRESS health "grpc.health.v1.Health/Check"
SAY RESULT.status`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "SERVING\nNOT_SERVING\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestGRPCTarget_Command(t *testing.T) {
	addr, _ := startHealthServer(t)
	in, out := newScript(t, "health", dialHealth(t, addr))

	_, err := in.RunSource(context.Background(), "health.rexx", `ADDRESS health
Check("svc")
ADDRESS
SAY RC RESULT.status`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "0 NOT_SERVING\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestGRPCTarget_Errors(t *testing.T) {
	addr, _ := startHealthServer(t)
	target := dialHealth(t, addr)
	ctx := context.Background()

	tests := []struct {
		name    string
		message string
		meta    vm.Meta
	}{
		{"bad method format", "Check", vm.Meta{Kind: vm.MetaMessage}},
		{"unknown service", "no.Such/Thing", vm.Meta{Kind: vm.MetaMessage}},
		{"unknown method", "grpc.health.v1.Health/Nope", vm.Meta{Kind: vm.MetaMessage}},
		{"streaming method", "grpc.health.v1.Health/Watch", vm.Meta{Kind: vm.MetaMessage}},
		{"too many arguments", "", vm.Meta{Kind: vm.MetaCommand, Method: "Check", Params: []vm.Value{vm.Str("a"), vm.Str("b")}}},
		{"unknown health service", "", vm.Meta{Kind: vm.MetaCommand, Method: "Check", Params: []vm.Value{vm.Str("nope")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := target.Handle(ctx, tt.message, nil, tt.meta)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, vm.ErrTransientInvalidation) {
				t.Errorf("error should not be transient: %v", err)
			}
		})
	}
}

func TestGRPCTarget_UnavailableIsTransient(t *testing.T) {
	addr, s := startHealthServer(t)
	target := dialHealth(t, addr)
	ctx := context.Background()
	meta := vm.Meta{Kind: vm.MetaMessage}

	if _, err := target.Handle(ctx, "grpc.health.v1.Health/Check", nil, meta); err != nil {
		t.Fatalf("first call: %v", err)
	}
	s.Stop()

	_, err := target.Handle(ctx, "grpc.health.v1.Health/Check", nil, meta)
	if !errors.Is(err, vm.ErrTransientInvalidation) {
		t.Errorf("err = %v, want transient invalidation", err)
	}
}

func TestProtoConversion(t *testing.T) {
	addr, _ := startHealthServer(t)
	target := dialHealth(t, addr)
	md, err := target.resolveMethod("grpc.health.v1.Health/Check")
	if err != nil {
		t.Fatal(err)
	}

	// The response enum converts by name and by number.
	out := md.GetOutputType()
	for _, v := range []vm.Value{vm.Str("SERVING"), vm.Num(1)} {
		msg, err := recordToProto(vm.Record(map[string]vm.Value{"status": v, "ignored": vm.Str("x")}), out)
		if err != nil {
			t.Fatalf("recordToProto(%v): %v", v, err)
		}
		rec, err := protoToRecord(msg)
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := rec.Field("status"); got.String() != "SERVING" {
			t.Errorf("status = %q", got.String())
		}
	}

	if _, err := recordToProto(vm.Record(map[string]vm.Value{"status": vm.Str("BOGUS")}), out); err == nil {
		t.Error("unknown enum name should fail")
	}
	if _, err := recordToProto(vm.Str("x"), out); err == nil {
		t.Error("non-record should fail")
	}
}
