package handler

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

type grpcFixture struct {
	conn     *grpc.ClientConn
	versions *service.VersionStore
}

func newGRPCFixture(t *testing.T) *grpcFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	log := logger.NewNop()
	versions := service.NewVersionStore(store, log)
	orch := service.NewOrchestrator(
		store,
		service.NewLevelEngine(store, log),
		service.NewRevisionTracker(store, log),
		service.NewTemplateService(store, log),
		nil,
		log,
	)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewGRPCHandler(orch, log).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &grpcFixture{conn: conn, versions: versions}
}

func (f *grpcFixture) invoke(ctx context.Context, who identity, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	ctx = metadata.AppendToOutgoingContext(ctx,
		MetadataUserID, who.id,
		MetadataUserRole, who.role,
		MetadataUserType, who.typ,
	)
	out := new(structpb.Struct)
	err = f.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPCCreateSubmitAndDecide(t *testing.T) {
	f := newGRPCFixture(t)
	ctx := context.Background()

	art, _, err := f.versions.CreateArtifact(ctx, service.Caller{ID: staff.id}, service.CreateArtifactInput{
		Kind:      repository.ArtifactDeliverable,
		ProjectID: "proj-1",
		Title:     "Logo",
		Content:   repository.DeliverableContentOf(repository.DeliverableContent{FileRef: "logo-v1.svg"}),
	})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	out, err := f.invoke(ctx, staff, "CreateWorkflow", map[string]any{
		"artifact_id": art.ID,
		"levels": []any{map[string]any{
			"name":     "Client sign-off",
			"required": true,
			"approvers": []any{
				map[string]any{"type": "client", "ref": customer.id, "required": true},
			},
		}},
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	wfID := out.Fields["workflow"].GetStructValue().Fields["id"].GetStringValue()
	if wfID == "" {
		t.Fatalf("expected a workflow id, got %v", out)
	}

	out, err = f.invoke(ctx, staff, "SubmitForReview", map[string]any{"id": wfID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := out.Fields["workflow"].GetStructValue().Fields["status"].GetStringValue(); got != "in_review" {
		t.Fatalf("expected in_review, got %q", got)
	}

	level := out.Fields["levels"].GetListValue().Values[0].GetStructValue()
	approver := level.Fields["approvers"].GetListValue().Values[0].GetStructValue()
	decision := map[string]any{
		"workflow_id": wfID,
		"level_id":    approver.Fields["level_id"].GetStringValue(),
		"approver_id": approver.Fields["id"].GetStringValue(),
		"decision":    "approved",
	}

	_, err = f.invoke(ctx, staff, "Decide", decision)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	out, err = f.invoke(ctx, customer, "Decide", decision)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	wf := out.Fields["workflow"].GetStructValue().Fields["workflow"].GetStructValue()
	if got := wf.Fields["status"].GetStringValue(); got != "approved" {
		t.Fatalf("expected approved, got %q", got)
	}

	_, err = f.invoke(ctx, customer, "Decide", decision)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestGRPCErrors(t *testing.T) {
	f := newGRPCFixture(t)
	ctx := context.Background()

	_, err := f.invoke(ctx, staff, "GetWorkflow", map[string]any{"id": "missing"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = f.invoke(ctx, staff, "Reject", map[string]any{"id": "missing", "reason": ""})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	_, err = f.invoke(ctx, staff, "Decide", map[string]any{"workflow_id": 42})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for a malformed request, got %v", err)
	}
}
