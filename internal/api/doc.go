// Package api serves payment.v1.PaymentService over gRPC with a JSON
// message codec, so the repository carries no generated protobuf code.
// The service descriptor and handler shims in server.go mirror what
// protoc-gen-go-grpc would emit for this contract:
//
//	service PaymentService {
//	  rpc AuthorizePayment(AuthorizePaymentRequest) returns (AuthorizePaymentResponse);
//	  rpc GetPayment(GetPaymentRequest) returns (GetPaymentResponse);
//	  rpc GetAccountBalance(GetAccountBalanceRequest) returns (GetAccountBalanceResponse);
//	}
//
// Clients must dial with the "json" codec registered by this package.
// Business declines are ordinary AuthorizePaymentResponse payloads with
// an error block; gRPC status codes are reserved for malformed requests
// (InvalidArgument), missing entities (NotFound) and infrastructure
// failures (Internal, ResourceExhausted).
package api
