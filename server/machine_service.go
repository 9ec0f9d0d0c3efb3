package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/pkg/errors"

	"github.com/chazu/emfrp/machine"
	"github.com/chazu/emfrp/store"
	"github.com/chazu/emfrp/vm"
)

// ServiceName is the fully qualified machine service name.
const ServiceName = "emfrp.v1.MachineService"

// Procedure paths served by the machine service.
const (
	LoadProcedure     = "/" + ServiceName + "/Load"
	TickProcedure     = "/" + ServiceName + "/Tick"
	NodesProcedure    = "/" + ServiceName + "/Nodes"
	SnapshotProcedure = "/" + ServiceName + "/Snapshot"
	InfoProcedure     = "/" + ServiceName + "/Info"
)

// maxTicksPerCall bounds a single Tick request.
const maxTicksPerCall = 1 << 16

// MachineService implements the machine service handlers.
type MachineService struct {
	id       string
	machine  *machine.Machine
	programs *store.Store
}

// NewMachineService creates a MachineService. programs may be nil, in which
// case loads by program name are rejected.
func NewMachineService(id string, m *machine.Machine, programs *store.Store) *MachineService {
	return &MachineService{id: id, machine: m, programs: programs}
}

// Load installs a load buffer, given inline or by stored program name.
func (s *MachineService) Load(
	ctx context.Context,
	req *connect.Request[LoadRequest],
) (*connect.Response[LoadResponse], error) {
	code, hash, err := s.resolveCode(ctx, req.Msg)
	if err != nil {
		return nil, err
	}

	if err := s.machine.Load(ctx, code); err != nil {
		log.Warningf("load rejected: %v", err)
		return nil, connectError(err)
	}
	nodes, err := s.machine.Nodes(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&LoadResponse{Nodes: len(nodes), Hash: hash}), nil
}

func (s *MachineService) resolveCode(ctx context.Context, msg *LoadRequest) ([]byte, string, error) {
	switch {
	case len(msg.Code) > 0 && msg.Program != "":
		return nil, "", connect.NewError(connect.CodeInvalidArgument, errors.New("code and program are mutually exclusive"))
	case len(msg.Code) > 0:
		return msg.Code, "", nil
	case msg.Program == "":
		return nil, "", connect.NewError(connect.CodeInvalidArgument, errors.New("code or program is required"))
	case s.programs == nil:
		return nil, "", connect.NewError(connect.CodeFailedPrecondition, errors.New("no program store configured"))
	}

	rec, err := s.programs.Get(ctx, msg.Program)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", connect.NewError(connect.CodeNotFound, err)
		}
		return nil, "", connect.NewError(connect.CodeInternal, err)
	}
	return rec.Code, rec.Hash, nil
}

// Tick runs the retained update program. VM failures are reported in the
// response, not as RPC errors.
func (s *MachineService) Tick(
	ctx context.Context,
	req *connect.Request[TickRequest],
) (*connect.Response[TickResponse], error) {
	count := req.Msg.Count
	if count <= 0 {
		count = 1
	}
	if count > maxTicksPerCall {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.Errorf("count %d exceeds %d", count, maxTicksPerCall))
	}

	resp := &TickResponse{Status: vm.StatusOK.String()}
	for resp.Ticks < count {
		if err := s.machine.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, connect.NewError(connect.CodeCanceled, err)
			}
			resp.Status = vm.StatusOf(err).String()
			resp.Error = err.Error()
			break
		}
		resp.Ticks++
	}

	nodes, err := s.machine.Nodes(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	resp.Nodes = nodes
	return connect.NewResponse(resp), nil
}

// Nodes returns the node graph.
func (s *MachineService) Nodes(
	ctx context.Context,
	_ *connect.Request[NodesRequest],
) (*connect.Response[NodesResponse], error) {
	nodes, err := s.machine.Nodes(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&NodesResponse{Nodes: nodes}), nil
}

// Snapshot returns a machine image.
func (s *MachineService) Snapshot(
	ctx context.Context,
	_ *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	snap, err := s.machine.Snapshot(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SnapshotResponse{Snapshot: snap}), nil
}

// Info returns the machine ID and counters.
func (s *MachineService) Info(
	_ context.Context,
	_ *connect.Request[InfoRequest],
) (*connect.Response[InfoResponse], error) {
	st := s.machine.Metrics().Stats()
	return connect.NewResponse(&InfoResponse{
		ID:           s.id,
		Ticks:        st.Ticks,
		Loads:        st.Loads,
		Failures:     st.Failures,
		Instructions: st.Instructions,
	}), nil
}

// NewMachineServiceHandler builds an HTTP handler serving every procedure of
// svc. It returns the path prefix to mount the handler on.
func NewMachineServiceHandler(svc *MachineService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(LoadProcedure, connect.NewUnaryHandler(LoadProcedure, svc.Load, opts...))
	mux.Handle(TickProcedure, connect.NewUnaryHandler(TickProcedure, svc.Tick, opts...))
	mux.Handle(NodesProcedure, connect.NewUnaryHandler(NodesProcedure, svc.Nodes, opts...))
	mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, svc.Snapshot, opts...))
	mux.Handle(InfoProcedure, connect.NewUnaryHandler(InfoProcedure, svc.Info, opts...))
	return "/" + ServiceName + "/", mux
}

// connectError maps a machine or VM error onto a connect error code.
func connectError(err error) error {
	if errors.Is(err, machine.ErrStopped) {
		return connect.NewError(connect.CodeUnavailable, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	switch vm.StatusOf(err) {
	case vm.StatusMalformedProgram:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case vm.StatusIndexOutOfRange:
		return connect.NewError(connect.CodeOutOfRange, err)
	case vm.StatusUnimplemented:
		return connect.NewError(connect.CodeUnimplemented, err)
	case vm.StatusPanic:
		return connect.NewError(connect.CodeAborted, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
