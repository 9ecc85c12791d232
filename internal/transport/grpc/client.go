package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// SchedulingClient calls clinicsched.v1.SchedulingService over the JSON codec.
type SchedulingClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulingClient(cc grpc.ClientConnInterface) *SchedulingClient {
	return &SchedulingClient{cc: cc}
}

// Dial opens a plaintext connection that speaks the JSON codec by default.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	return grpc.NewClient(target, opts...)
}

// WithIdempotencyKey attaches key to outgoing calls made with ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "idempotency-key", key)
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) PreviewOccurrences(ctx context.Context, in *PreviewOccurrencesRequest, opts ...grpc.CallOption) (*PreviewOccurrencesResponse, error) {
	return invoke[PreviewOccurrencesRequest, PreviewOccurrencesResponse](ctx, c.cc, "PreviewOccurrences", in, opts)
}

func (c *SchedulingClient) CommitSelection(ctx context.Context, in *CommitSelectionRequest, opts ...grpc.CallOption) (*CommitSelectionResponse, error) {
	return invoke[CommitSelectionRequest, CommitSelectionResponse](ctx, c.cc, "CommitSelection", in, opts)
}

func (c *SchedulingClient) GetSeries(ctx context.Context, in *GetSeriesRequest, opts ...grpc.CallOption) (*GetSeriesResponse, error) {
	return invoke[GetSeriesRequest, GetSeriesResponse](ctx, c.cc, "GetSeries", in, opts)
}

func (c *SchedulingClient) CancelOccurrence(ctx context.Context, in *CancelOccurrenceRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[CancelOccurrenceRequest, MutationResponse](ctx, c.cc, "CancelOccurrence", in, opts)
}

func (c *SchedulingClient) CancelFuture(ctx context.Context, in *CancelFutureRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[CancelFutureRequest, MutationResponse](ctx, c.cc, "CancelFuture", in, opts)
}

func (c *SchedulingClient) CancelRange(ctx context.Context, in *DateRangeRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[DateRangeRequest, MutationResponse](ctx, c.cc, "CancelRange", in, opts)
}

func (c *SchedulingClient) EndRecurrence(ctx context.Context, in *EndRecurrenceRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[EndRecurrenceRequest, MutationResponse](ctx, c.cc, "EndRecurrence", in, opts)
}

func (c *SchedulingClient) PauseRange(ctx context.Context, in *DateRangeRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[DateRangeRequest, MutationResponse](ctx, c.cc, "PauseRange", in, opts)
}

func (c *SchedulingClient) ResumeRange(ctx context.Context, in *DateRangeRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[DateRangeRequest, MutationResponse](ctx, c.cc, "ResumeRange", in, opts)
}

func (c *SchedulingClient) ExportSeriesICS(ctx context.Context, in *ExportSeriesICSRequest, opts ...grpc.CallOption) (*ExportSeriesICSResponse, error) {
	return invoke[ExportSeriesICSRequest, ExportSeriesICSResponse](ctx, c.cc, "ExportSeriesICS", in, opts)
}

func (c *SchedulingClient) CheckRetroactiveDate(ctx context.Context, in *CheckRetroactiveDateRequest, opts ...grpc.CallOption) (*CheckRetroactiveDateResponse, error) {
	return invoke[CheckRetroactiveDateRequest, CheckRetroactiveDateResponse](ctx, c.cc, "CheckRetroactiveDate", in, opts)
}
