package api

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/logging"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/application"
)

// PaymentServiceServer is the server contract for payment.v1.PaymentService.
type PaymentServiceServer interface {
	AuthorizePayment(ctx context.Context, req *AuthorizePaymentRequest) (*AuthorizePaymentResponse, error)
	GetPayment(ctx context.Context, req *GetPaymentRequest) (*GetPaymentResponse, error)
	GetAccountBalance(ctx context.Context, req *GetAccountBalanceRequest) (*GetAccountBalanceResponse, error)
}

// Server adapts the application service to the gRPC surface.
type Server struct {
	service *application.PaymentService
}

// NewServer creates a new gRPC payment server.
func NewServer(service *application.PaymentService) *Server {
	return &Server{service: service}
}

// AuthorizePayment validates the request shape and runs the authorization
// pipeline. Business declines come back as a DECLINED response, not as a
// gRPC error.
func (s *Server) AuthorizePayment(ctx context.Context, req *AuthorizePaymentRequest) (*AuthorizePaymentResponse, error) {
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	log := logging.FromContext(ctx).With(
		"method", "AuthorizePayment",
		"idempotency_key", req.IdempotencyKey,
	)
	log.Info("request_received")

	switch {
	case req.IdempotencyKey == "":
		return nil, status.Error(codes.InvalidArgument, "idempotency_key is required")
	case req.PayerAccountID == "":
		return nil, status.Error(codes.InvalidArgument, "payer_account_id is required")
	case req.PayeeAccountID == "":
		return nil, status.Error(codes.InvalidArgument, "payee_account_id is required")
	case req.Currency == "":
		return nil, status.Error(codes.InvalidArgument, "currency is required")
	}

	result, err := s.service.Authorize(ctx, application.AuthorizePaymentCommand{
		IdempotencyKey: req.IdempotencyKey,
		PayerAccountID: req.PayerAccountID,
		PayeeAccountID: req.PayeeAccountID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Description:    req.Description,
	})
	if err != nil {
		log.Error("authorization failed", "error", err)
		return nil, status.Error(codes.Internal, "authorization failed")
	}

	resp := &AuthorizePaymentResponse{
		PaymentID:   result.PaymentID,
		Status:      string(result.Status),
		ProcessedAt: result.ProcessedAt.Format(time.RFC3339Nano),
	}
	if result.ErrorCode != "" {
		resp.Error = &PaymentError{Code: result.ErrorCode, Message: result.ErrorMessage}
	}
	return resp, nil
}

// GetPayment looks up a payment by id.
func (s *Server) GetPayment(ctx context.Context, req *GetPaymentRequest) (*GetPaymentResponse, error) {
	if req.PaymentID == "" {
		return nil, status.Error(codes.InvalidArgument, "payment_id is required")
	}

	payment, err := s.service.GetPayment(ctx, req.PaymentID)
	if err != nil {
		logging.ErrorContext(ctx, "payment lookup failed", "error", err)
		return nil, status.Error(codes.Internal, "payment lookup failed")
	}
	if payment == nil {
		return nil, status.Errorf(codes.NotFound, "Payment %s not found", req.PaymentID)
	}

	return &GetPaymentResponse{
		Payment: &Payment{
			PaymentID:      payment.ID,
			PayerAccountID: payment.PayerAccountID,
			PayeeAccountID: payment.PayeeAccountID,
			AmountCents:    payment.AmountCents,
			Currency:       payment.Currency,
			Status:         string(payment.Status),
			Description:    payment.Description,
			CreatedAt:      payment.CreatedAt.Format(time.RFC3339Nano),
			UpdatedAt:      payment.UpdatedAt.Format(time.RFC3339Nano),
		},
	}, nil
}

// GetAccountBalance looks up an account's balance snapshot.
func (s *Server) GetAccountBalance(ctx context.Context, req *GetAccountBalanceRequest) (*GetAccountBalanceResponse, error) {
	if req.AccountID == "" {
		return nil, status.Error(codes.InvalidArgument, "account_id is required")
	}

	balance, err := s.service.GetAccountBalance(ctx, req.AccountID)
	if err != nil {
		logging.ErrorContext(ctx, "balance lookup failed", "error", err)
		return nil, status.Error(codes.Internal, "balance lookup failed")
	}
	if balance == nil {
		return nil, status.Errorf(codes.NotFound, "Account balance for %s not found", req.AccountID)
	}

	return &GetAccountBalanceResponse{
		AccountID:             balance.AccountID,
		AvailableBalanceCents: balance.AvailableBalanceCents,
		PendingBalanceCents:   balance.PendingBalanceCents,
		Currency:              balance.Currency,
	}, nil
}

var _ PaymentServiceServer = (*Server)(nil)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "payment.v1.PaymentService"

// RegisterPaymentServiceServer registers srv on the gRPC server under the
// hand-maintained service descriptor.
func RegisterPaymentServiceServer(registrar grpc.ServiceRegistrar, srv PaymentServiceServer) {
	registrar.RegisterService(&paymentServiceDesc, srv)
}

var paymentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AuthorizePayment", Handler: authorizePaymentHandler},
		{MethodName: "GetPayment", Handler: getPaymentHandler},
		{MethodName: "GetAccountBalance", Handler: getAccountBalanceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payment/v1/payment_service",
}

func authorizePaymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AuthorizePaymentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).AuthorizePayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fmt.Sprintf("/%s/AuthorizePayment", ServiceName),
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).AuthorizePayment(ctx, req.(*AuthorizePaymentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getPaymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetPaymentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).GetPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fmt.Sprintf("/%s/GetPayment", ServiceName),
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).GetPayment(ctx, req.(*GetPaymentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getAccountBalanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAccountBalanceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).GetAccountBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fmt.Sprintf("/%s/GetAccountBalance", ServiceName),
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).GetAccountBalance(ctx, req.(*GetAccountBalanceRequest))
	}
	return interceptor(ctx, in, info, handler)
}
