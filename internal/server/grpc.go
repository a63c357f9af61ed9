package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/pipeline"
	"github.com/joseph-ayodele/pdf2schema/internal/repository"
)

const (
	ServiceName   = "pdf2schema.v1.SchemaConverter"
	methodConvert = "/" + ServiceName + "/Convert"
	methodGetRun  = "/" + ServiceName + "/GetRun"
)

// SchemaConverterServer is the gRPC contract. Requests and responses are
// google.protobuf.Struct values carrying the same JSON shapes as the REST API.
type SchemaConverterServer interface {
	Convert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var schemaConverterDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchemaConverterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Convert", Handler: unary(methodConvert, SchemaConverterServer.Convert)},
		{MethodName: "GetRun", Handler: unary(methodGetRun, SchemaConverterServer.GetRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pdf2schema/v1/converter.proto",
}

func unary(fullMethod string, call func(SchemaConverterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SchemaConverterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SchemaConverterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterSchemaConverter registers srv and marks it serving on the health server.
func RegisterSchemaConverter(s *grpc.Server, srv SchemaConverterServer, hs *health.Server) {
	s.RegisterService(&schemaConverterDesc, srv)
	if hs != nil {
		hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
}

type ConverterService struct {
	conv   Converter
	store  repository.Store
	logger *slog.Logger
}

var _ SchemaConverterServer = (*ConverterService)(nil)

func NewConverterService(conv Converter, store repository.Store, logger *slog.Logger) *ConverterService {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = repository.NopStore{}
	}
	return &ConverterService{conv: conv, store: store, logger: logger}
}

type convertArgs struct {
	Path            string `validate:"required"`
	GroundTruthPath string
	OutputDir       string
}

// Convert expects {path, ground_truth_path?, output_dir?} naming files on the server.
func (s *ConverterService) Convert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	args := convertArgs{
		Path:            strings.TrimSpace(fields["path"].GetStringValue()),
		GroundTruthPath: strings.TrimSpace(fields["ground_truth_path"].GetStringValue()),
		OutputDir:       strings.TrimSpace(fields["output_dir"].GetStringValue()),
	}
	if err := common.ValidateAndReturnError(args); err != nil {
		return nil, err
	}
	path := args.Path
	req := pipeline.Request{Path: path, GroundTruthPath: args.GroundTruthPath, OutputDir: args.OutputDir, PerRunOutput: true}

	s.logger.Info("grpc.convert.start", "path", path)
	out, err := s.conv.Convert(ctx, req)
	if err != nil && out.RunID == uuid.Nil {
		if errors.Is(err, common.ErrInvalidInput) {
			return nil, common.InvalidArgumentError(err.Error())
		}
		s.logger.Error("grpc.convert.failed", "path", path, "error", err)
		return nil, common.InternalErrorf("convert: %v", err)
	}
	if err != nil {
		s.logger.Warn("grpc.convert.partial", "run_id", out.RunID, "error", err)
	}
	return toStruct(out.Response)
}

// GetRun expects {id}.
func (s *ConverterService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := in.GetFields()["id"].GetStringValue()
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, common.InvalidArgumentErrorf("id %q is not a UUID", raw)
	}
	view, err := loadRun(ctx, s.store, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, common.NotFoundError("run not found")
		}
		s.logger.Error("grpc.get_run.failed", "run_id", id, "error", err)
		return nil, common.InternalError("could not load run")
	}
	return toStruct(view)
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	return st, nil
}

// ConverterClient calls a remote SchemaConverter.
type ConverterClient struct {
	cc grpc.ClientConnInterface
}

func NewConverterClient(cc grpc.ClientConnInterface) *ConverterClient {
	return &ConverterClient{cc: cc}
}

func (c *ConverterClient) Convert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodConvert, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConverterClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetRun, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
