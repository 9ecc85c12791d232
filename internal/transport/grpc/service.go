package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "clinicsched.v1.SchedulingService"

// SchedulingServiceServer is the server API of clinicsched.v1.SchedulingService.
type SchedulingServiceServer interface {
	PreviewOccurrences(context.Context, *PreviewOccurrencesRequest) (*PreviewOccurrencesResponse, error)
	CommitSelection(context.Context, *CommitSelectionRequest) (*CommitSelectionResponse, error)
	GetSeries(context.Context, *GetSeriesRequest) (*GetSeriesResponse, error)
	CancelOccurrence(context.Context, *CancelOccurrenceRequest) (*MutationResponse, error)
	CancelFuture(context.Context, *CancelFutureRequest) (*MutationResponse, error)
	CancelRange(context.Context, *DateRangeRequest) (*MutationResponse, error)
	EndRecurrence(context.Context, *EndRecurrenceRequest) (*MutationResponse, error)
	PauseRange(context.Context, *DateRangeRequest) (*MutationResponse, error)
	ResumeRange(context.Context, *DateRangeRequest) (*MutationResponse, error)
	ExportSeriesICS(context.Context, *ExportSeriesICSRequest) (*ExportSeriesICSResponse, error)
	CheckRetroactiveDate(context.Context, *CheckRetroactiveDateRequest) (*CheckRetroactiveDateResponse, error)
}

func RegisterSchedulingServiceServer(s grpc.ServiceRegistrar, srv SchedulingServiceServer) {
	s.RegisterService(&schedulingServiceDesc, srv)
}

// unaryHandler adapts one typed server method to a MethodDesc handler.
func unaryHandler[Req, Resp any](method string, call func(SchedulingServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SchedulingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SchedulingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var schedulingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SchedulingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PreviewOccurrences", Handler: unaryHandler("PreviewOccurrences", SchedulingServiceServer.PreviewOccurrences)},
		{MethodName: "CommitSelection", Handler: unaryHandler("CommitSelection", SchedulingServiceServer.CommitSelection)},
		{MethodName: "GetSeries", Handler: unaryHandler("GetSeries", SchedulingServiceServer.GetSeries)},
		{MethodName: "CancelOccurrence", Handler: unaryHandler("CancelOccurrence", SchedulingServiceServer.CancelOccurrence)},
		{MethodName: "CancelFuture", Handler: unaryHandler("CancelFuture", SchedulingServiceServer.CancelFuture)},
		{MethodName: "CancelRange", Handler: unaryHandler("CancelRange", SchedulingServiceServer.CancelRange)},
		{MethodName: "EndRecurrence", Handler: unaryHandler("EndRecurrence", SchedulingServiceServer.EndRecurrence)},
		{MethodName: "PauseRange", Handler: unaryHandler("PauseRange", SchedulingServiceServer.PauseRange)},
		{MethodName: "ResumeRange", Handler: unaryHandler("ResumeRange", SchedulingServiceServer.ResumeRange)},
		{MethodName: "ExportSeriesICS", Handler: unaryHandler("ExportSeriesICS", SchedulingServiceServer.ExportSeriesICS)},
		{MethodName: "CheckRetroactiveDate", Handler: unaryHandler("CheckRetroactiveDate", SchedulingServiceServer.CheckRetroactiveDate)},
	},
	Streams: []grpc.StreamDesc{},
}
