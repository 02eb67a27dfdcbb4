package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-workflow-engine/internal/errors"
	"github.com/pesio-ai/be-workflow-engine/internal/service"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// Metadata keys carrying the caller identity.
const (
	MetadataUserID   = "x-user-id"
	MetadataUserRole = "x-user-role"
)

// WorkflowServiceServer is the server API for workflow.v1.WorkflowService.
// Messages are google.protobuf.Struct documents with the same field names as
// the HTTP API.
type WorkflowServiceServer interface {
	SubmitExpense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecideStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetExpense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordPicks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

const serviceName = "workflow.v1.WorkflowService"

// WorkflowServiceDesc describes workflow.v1.WorkflowService for
// grpc.Server.RegisterService.
var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitExpense", WorkflowServiceServer.SubmitExpense),
		unaryMethod("DecideStep", WorkflowServiceServer.DecideStep),
		unaryMethod("GetExpense", WorkflowServiceServer.GetExpense),
		unaryMethod("ListQueue", WorkflowServiceServer.ListQueue),
		unaryMethod("RecordPicks", WorkflowServiceServer.RecordPicks),
		unaryMethod("CancelOrder", WorkflowServiceServer.CancelOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "workflow/v1/workflow.proto",
}

// FullMethod returns the gRPC method path for name.
func FullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unaryMethod(name string, call func(WorkflowServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkflowServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCHandler implements the WorkflowService gRPC interface
type GRPCHandler struct {
	approvals *service.ApprovalService
	orders    *service.OrderService
	logger    zerolog.Logger
}

var _ WorkflowServiceServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, orders *service.OrderService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		orders:    orders,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register registers the handler on s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&WorkflowServiceDesc, h)
}

// actor extracts the caller identity from incoming metadata.
func actor(ctx context.Context) (id, role string) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ""
	}
	if v := md.Get(MetadataUserID); len(v) > 0 {
		id = v[0]
	}
	if v := md.Get(MetadataUserRole); len(v) > 0 {
		role = v[0]
	}
	return id, role
}

type decideStepMessage struct {
	RequestID string `json:"request_id" validate:"required"`
	Level     int    `json:"level" validate:"gte=0"`
	Decision  string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment   string `json:"comment" validate:"max=500"`
}

type getExpenseMessage struct {
	ID string `json:"id" validate:"required"`
}

type listQueueMessage struct {
	Role string `json:"role"`
}

type recordPicksMessage struct {
	OrderID string     `json:"order_id" validate:"required"`
	Picks   []pickBody `json:"picks" validate:"required,min=1,dive"`
}

type cancelOrderMessage struct {
	OrderID string `json:"order_id" validate:"required"`
}

// SubmitExpense submits an expense request for approval
func (h *GRPCHandler) SubmitExpense(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg submitExpenseBody
	if err := decodeStruct(in, &msg); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	userID, _ := actor(ctx)

	h.logger.Debug().Str("submitted_by", userID).Int("items", len(msg.Items)).Msg("gRPC SubmitExpense called")

	items := make([]workflow.ExpenseItem, len(msg.Items))
	for i, it := range msg.Items {
		items[i] = workflow.ExpenseItem{
			Category:    it.Category,
			Amount:      it.Amount,
			Description: it.Description,
			HasReceipt:  it.HasReceipt,
		}
	}

	req, err := h.approvals.Submit(ctx, service.SubmitExpenseRequest{
		SubmittedBy: userID,
		Purpose:     msg.Purpose,
		Items:       items,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return h.encode(newRequestView(req))
}

// DecideStep records an approve or reject decision
func (h *GRPCHandler) DecideStep(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg decideStepMessage
	if err := decodeStruct(in, &msg); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	userID, role := actor(ctx)

	h.logger.Debug().
		Str("request_id", msg.RequestID).
		Int("level", msg.Level).
		Str("decision", msg.Decision).
		Msg("gRPC DecideStep called")

	req, err := h.approvals.Decide(ctx, service.DecideRequest{
		RequestID: msg.RequestID,
		Level:     msg.Level,
		ActorID:   userID,
		ActorRole: role,
		Decision:  msg.Decision,
		Comment:   msg.Comment,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return h.encode(newRequestView(req))
}

// GetExpense returns one request with its trail
func (h *GRPCHandler) GetExpense(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg getExpenseMessage
	if err := decodeStruct(in, &msg); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	req, err := h.approvals.Get(ctx, msg.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return h.encode(newRequestView(req))
}

// ListQueue lists requests a role can act on. The role defaults to the
// caller's metadata role.
func (h *GRPCHandler) ListQueue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg listQueueMessage
	if err := decodeStruct(in, &msg); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	if msg.Role == "" {
		_, msg.Role = actor(ctx)
	}
	if msg.Role == "" {
		return nil, mapErrorToGRPC(errors.InvalidInput("role", "role is required"))
	}

	reqs, err := h.approvals.Queue(ctx, msg.Role)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	views := make([]requestView, len(reqs))
	for i, r := range reqs {
		views[i] = newRequestView(r)
	}
	return h.encode(map[string]any{"requests": views, "total": len(views)})
}

// RecordPicks applies a batch of picks to one order
func (h *GRPCHandler) RecordPicks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg recordPicksMessage
	if err := decodeStruct(in, &msg); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	userID, _ := actor(ctx)

	h.logger.Debug().Str("order_id", msg.OrderID).Int("picks", len(msg.Picks)).Msg("gRPC RecordPicks called")

	picks := make([]workflow.Pick, len(msg.Picks))
	for i, p := range msg.Picks {
		picks[i] = workflow.Pick{LineID: p.LineID, Delta: p.Delta}
	}

	order, err := h.orders.RecordPicks(ctx, msg.OrderID, picks, userID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return h.encode(newOrderView(order))
}

// CancelOrder cancels an order with no recorded picks
func (h *GRPCHandler) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg cancelOrderMessage
	if err := decodeStruct(in, &msg); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	userID, _ := actor(ctx)

	order, err := h.orders.Cancel(ctx, msg.OrderID, userID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return h.encode(newOrderView(order))
}

// decodeStruct converts a Struct message into a validated request body by way
// of its JSON form.
func decodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return errors.InvalidInput("", "invalid message")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.InvalidInput("", "invalid message: "+err.Error())
	}
	return validateBody(out)
}

func (h *GRPCHandler) encode(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return s, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// stateConflicts are engine refusals that retrying will not fix.
var stateConflicts = []error{
	workflow.ErrNotYourTurn,
	workflow.ErrAlreadyDecided,
	workflow.ErrRequestClosed,
	workflow.ErrOrderCancelled,
	workflow.ErrPickRecorded,
	workflow.ErrOrderLocked,
}

// mapErrorToGRPC maps application error codes to gRPC status codes. A
// CONFLICT from a stale version or a busy lock is Aborted so clients retry;
// engine state conflicts are FailedPrecondition.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.Error
	msg := "internal error"
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	switch errors.Code(err) {
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeUnprocessable:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeConflict:
		for _, target := range stateConflicts {
			if errors.Is(err, target) {
				return status.Error(codes.FailedPrecondition, msg)
			}
		}
		return status.Error(codes.Aborted, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
