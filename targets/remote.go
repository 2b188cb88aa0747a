package targets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/vm"
	"github.com/chazu/rexx/vm/dist"
)

func init() {
	RegisterKind("connect", func(ctx context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error) {
		remote := def.Metadata["target"]
		if remote == "" {
			remote = def.Name
		}
		return NewRemoteTarget(def.Name, def.URL, remote, http.DefaultClient), nil, nil
	})
}

// RemoteTarget forwards every dispatch to an ADDRESS target registered in
// another rexx server, over the AddressService/Send Connect procedure.
// The variable snapshot and dispatch metadata travel with the message.
// Unavailable and Aborted responses are reported as transient
// invalidations, so a remote target's own transient failures can be
// retried locally.
type RemoteTarget struct {
	Name string

	// Remote is the target name on the server.
	Remote string

	client *connect.Client[structpb.Struct, structpb.Struct]
}

// NewRemoteTarget returns a target that sends to remote on the server at
// baseURL.
func NewRemoteTarget(name, baseURL, remote string, httpClient connect.HTTPClient) *RemoteTarget {
	return &RemoteTarget{
		Name:   name,
		Remote: remote,
		client: connect.NewClient[structpb.Struct, structpb.Struct](
			httpClient,
			strings.TrimRight(baseURL, "/")+dist.AddressSendProcedure,
		),
	}
}

// Handle implements vm.Target.
func (t *RemoteTarget) Handle(ctx context.Context, message string, vars map[string]vm.Value, meta vm.Meta) (vm.Result, error) {
	req := &dist.SendRequest{Target: t.Remote, Message: message, Vars: vars, Meta: meta}
	resp, err := t.client.CallUnary(ctx, connect.NewRequest(req.Struct()))
	if err != nil {
		switch connect.CodeOf(err) {
		case connect.CodeUnavailable, connect.CodeAborted:
			return vm.Result{}, vm.NewTransientInvalidation(t.Name, err)
		}
		return vm.Result{}, fmt.Errorf("%s: %w", t.Name, err)
	}
	return dist.DecodeResult(resp.Msg), nil
}
