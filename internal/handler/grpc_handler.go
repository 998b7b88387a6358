package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "approvals.v1.WorkflowService"

// Caller metadata keys.
const (
	MetadataUserID   = "x-user-id"
	MetadataUserRole = "x-user-role"
	MetadataUserType = "x-user-type"
)

// GRPCHandler implements the WorkflowService gRPC interface. Requests and
// responses are google.protobuf.Struct messages carrying the same JSON shapes
// as the HTTP API.
type GRPCHandler struct {
	orch *service.Orchestrator
	log  *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(orch *service.Orchestrator, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		orch: orch,
		log:  log.Named("grpc"),
	}
}

// Register registers the handler with s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&WorkflowServiceDesc, h)
}

type workflowServer interface {
	CreateWorkflow(ctx context.Context, req *createWorkflowRequest) (any, error)
	GetWorkflow(ctx context.Context, req *idRequest) (any, error)
	SubmitForReview(ctx context.Context, req *idRequest) (any, error)
	Decide(ctx context.Context, req *decideRequest) (any, error)
	RequestRevision(ctx context.Context, req *revisionRequest) (any, error)
	Reject(ctx context.Context, req *rejectRequest) (any, error)
	CloneForNextVersion(ctx context.Context, req *cloneRequest) (any, error)
	ApproveAndRelease(ctx context.Context, req *releaseRequest) (any, error)
	SkipLevel(ctx context.Context, req *skipRequest) (any, error)
	UpdateChecklistItem(ctx context.Context, req *checklistRequest) (any, error)
	History(ctx context.Context, req *idRequest) (any, error)
}

// WorkflowServiceDesc describes the WorkflowService for grpc.Server.
var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*workflowServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateWorkflow", workflowServer.CreateWorkflow),
		unary("GetWorkflow", workflowServer.GetWorkflow),
		unary("SubmitForReview", workflowServer.SubmitForReview),
		unary("Decide", workflowServer.Decide),
		unary("RequestRevision", workflowServer.RequestRevision),
		unary("Reject", workflowServer.Reject),
		unary("CloneForNextVersion", workflowServer.CloneForNextVersion),
		unary("ApproveAndRelease", workflowServer.ApproveAndRelease),
		unary("SkipLevel", workflowServer.SkipLevel),
		unary("UpdateChecklistItem", workflowServer.UpdateChecklistItem),
		unary("History", workflowServer.History),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approvals/v1/workflow.proto",
}

// unary adapts a typed handler method to a Struct-in, Struct-out method.
func unary[Req any](name string, call func(workflowServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, msg any) (any, error) {
				req := new(Req)
				if err := fromStruct(msg.(*structpb.Struct), req); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
				}
				out, err := call(srv.(workflowServer), ctx, req)
				if err != nil {
					return nil, mapErrorToGRPC(err)
				}
				return toStruct(out)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// callerFromMetadata extracts the caller identity from incoming metadata.
func callerFromMetadata(ctx context.Context) service.Caller {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return service.Caller{}
	}
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return service.Caller{
		ID:   first(MetadataUserID),
		Role: first(MetadataUserRole),
		Type: first(MetadataUserType),
	}
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(errors.CodeOf(err).GRPCCode(), errors.UserMessage(err))
}

// ── Requests ──────────────────────────────────────────────────────────────────

type idRequest struct {
	ID string `json:"id"`
}

type createWorkflowRequest struct {
	ArtifactID string                             `json:"artifact_id"`
	Type       repository.WorkflowType            `json:"type"`
	Levels     []repository.ApprovalTemplateLevel `json:"levels"`
}

type decideRequest struct {
	WorkflowID string              `json:"workflow_id"`
	LevelID    string              `json:"level_id"`
	ApproverID string              `json:"approver_id"`
	Decision   repository.Decision `json:"decision"`
	Note       string              `json:"note"`
}

type revisionRequest struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

type rejectRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type cloneRequest struct {
	WorkflowID      string             `json:"workflow_id"`
	Content         repository.Content `json:"content"`
	ChangeLog       string             `json:"change_log"`
	AllowMultiLevel bool               `json:"allow_multi_level"`
}

type releaseRequest struct {
	ID      string `json:"id"`
	Release bool   `json:"release"`
}

type skipRequest struct {
	ID      string `json:"id"`
	LevelID string `json:"level_id"`
	Reason  string `json:"reason"`
}

type checklistRequest struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Satisfied bool   `json:"satisfied"`
}

// ── Methods ───────────────────────────────────────────────────────────────────

// CreateWorkflow creates a draft workflow for an artifact's current version
func (h *GRPCHandler) CreateWorkflow(ctx context.Context, req *createWorkflowRequest) (any, error) {
	h.log.Info().
		Str("artifact_id", req.ArtifactID).
		Int("levels", len(req.Levels)).
		Msg("gRPC CreateWorkflow called")

	return h.orch.CreateWorkflow(ctx, callerFromMetadata(ctx), service.CreateWorkflowInput{
		ArtifactID: req.ArtifactID,
		Type:       req.Type,
		Levels:     req.Levels,
	})
}

// GetWorkflow retrieves a workflow with its levels
func (h *GRPCHandler) GetWorkflow(ctx context.Context, req *idRequest) (any, error) {
	h.log.Debug().Str("workflow_id", req.ID).Msg("gRPC GetWorkflow called")
	return h.orch.GetWorkflow(ctx, req.ID)
}

// SubmitForReview submits a draft workflow
func (h *GRPCHandler) SubmitForReview(ctx context.Context, req *idRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.ID).Msg("gRPC SubmitForReview called")
	return h.orch.SubmitForReview(ctx, callerFromMetadata(ctx), req.ID)
}

// Decide records an approver decision
func (h *GRPCHandler) Decide(ctx context.Context, req *decideRequest) (any, error) {
	h.log.Info().
		Str("workflow_id", req.WorkflowID).
		Str("level_id", req.LevelID).
		Str("decision", string(req.Decision)).
		Msg("gRPC Decide called")

	return h.orch.Decide(ctx, callerFromMetadata(ctx), service.DecisionInput{
		WorkflowID: req.WorkflowID,
		LevelID:    req.LevelID,
		ApproverID: req.ApproverID,
		Decision:   req.Decision,
		Note:       req.Note,
	})
}

// RequestRevision opens a revision round
func (h *GRPCHandler) RequestRevision(ctx context.Context, req *revisionRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.ID).Msg("gRPC RequestRevision called")
	return h.orch.RequestRevision(ctx, callerFromMetadata(ctx), req.ID, req.Summary)
}

// Reject rejects a workflow on the owner's behalf
func (h *GRPCHandler) Reject(ctx context.Context, req *rejectRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.ID).Msg("gRPC Reject called")
	return h.orch.Reject(ctx, callerFromMetadata(ctx), req.ID, req.Reason)
}

// CloneForNextVersion creates the next version and its workflow
func (h *GRPCHandler) CloneForNextVersion(ctx context.Context, req *cloneRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.WorkflowID).Msg("gRPC CloneForNextVersion called")
	return h.orch.CloneForNextVersion(ctx, callerFromMetadata(ctx), service.CloneInput{
		WorkflowID:      req.WorkflowID,
		Content:         req.Content,
		ChangeLog:       req.ChangeLog,
		AllowMultiLevel: req.AllowMultiLevel,
	})
}

// ApproveAndRelease approves a quote workflow in one step
func (h *GRPCHandler) ApproveAndRelease(ctx context.Context, req *releaseRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.ID).Bool("release", req.Release).Msg("gRPC ApproveAndRelease called")
	return h.orch.ApproveAndRelease(ctx, callerFromMetadata(ctx), req.ID, req.Release)
}

// SkipLevel skips an optional level
func (h *GRPCHandler) SkipLevel(ctx context.Context, req *skipRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.ID).Str("level_id", req.LevelID).Msg("gRPC SkipLevel called")
	return h.orch.SkipLevel(ctx, callerFromMetadata(ctx), req.ID, req.LevelID, req.Reason)
}

// UpdateChecklistItem sets a checklist item
func (h *GRPCHandler) UpdateChecklistItem(ctx context.Context, req *checklistRequest) (any, error) {
	h.log.Info().Str("workflow_id", req.ID).Str("item_id", req.ItemID).Msg("gRPC UpdateChecklistItem called")
	return h.orch.UpdateChecklistItem(ctx, callerFromMetadata(ctx), req.ID, req.ItemID, req.Satisfied)
}

// History returns the workflow audit trail
func (h *GRPCHandler) History(ctx context.Context, req *idRequest) (any, error) {
	entries, err := h.orch.History(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries}, nil
}
