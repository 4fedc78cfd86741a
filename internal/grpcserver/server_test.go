package grpcserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"offerwall/reconciler-service/internal/grpcserver"
	"offerwall/reconciler-service/internal/inventory"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/reconciler"
	"offerwall/reconciler-service/internal/statecache"
)

type staticNames []string

func (s staticNames) Names(context.Context) ([]string, error) { return s, nil }

type noJobs struct{}

func (noJobs) List(context.Context, int) ([]model.NotificationJob, error) {
	return []model.NotificationJob{{ID: "job-1", Status: model.JobPending}}, nil
}
func (n noJobs) ListActive(ctx context.Context) ([]model.NotificationJob, error) {
	return n.List(ctx, 0)
}
func (noJobs) Create(context.Context, jobstore.NewJob) (string, error) { return "job-1", nil }
func (noJobs) Cancel(context.Context, string) (*model.NotificationJob, error) {
	return nil, jobstore.ErrNotFound
}
func (noJobs) SendNow(context.Context, string) (*model.NotificationJob, error) {
	return nil, jobstore.ErrNotFound
}
func (noJobs) Retry(context.Context, string) (*model.NotificationJob, error) {
	return nil, jobstore.ErrNotFound
}

func setup(t *testing.T, live func() bool) (*grpc.ClientConn, *reconciler.Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc := reconciler.New(inventory.NewLocalClassifier(staticNames{"Alpha"}), noJobs{},
		statecache.New(rdb, time.Hour), reconciler.Defaults{})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	hs := grpcserver.Register(gs, grpcserver.NewServer(svc))

	ctx, cancel := context.WithCancel(context.Background())
	go grpcserver.WatchHealth(ctx, hs, live, 10*time.Millisecond)
	go gs.Serve(lis)
	t.Cleanup(func() {
		cancel()
		gs.Stop()
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, svc
}

func TestGetState(t *testing.T) {
	conn, svc := setup(t, func() bool { return true })
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "test", []model.CandidateOffer{
		model.NewCandidate(1, "Alpha", "", "", "", "", nil),
		model.NewCandidate(2, "Beta", "", "", "", "", nil),
	})
	require.NoError(t, err)

	out := new(structpb.Struct)
	md := metadata.NewOutgoingContext(ctx, metadata.Pairs("x-session-id", "s1"))
	require.NoError(t, conn.Invoke(md, "/reconciler.v1.Reconciler/GetState", &structpb.Struct{}, out))

	m := out.AsMap()
	assert.Equal(t, "test", m["source"])
	counts := m["counts"].(map[string]any)
	assert.Equal(t, 1.0, counts["unscheduled"])

	// sessionId in the request body works too.
	in, _ := structpb.NewStruct(map[string]any{"sessionId": "s1"})
	require.NoError(t, conn.Invoke(ctx, "/reconciler.v1.Reconciler/GetState", in, out))
}

func TestGetState_Errors(t *testing.T) {
	conn, _ := setup(t, func() bool { return true })
	ctx := context.Background()

	err := conn.Invoke(ctx, "/reconciler.v1.Reconciler/GetState", &structpb.Struct{}, new(structpb.Struct))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	md := metadata.NewOutgoingContext(ctx, metadata.Pairs("x-session-id", "unknown"))
	err = conn.Invoke(md, "/reconciler.v1.Reconciler/GetState", &structpb.Struct{}, new(structpb.Struct))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestListJobs(t *testing.T) {
	conn, _ := setup(t, func() bool { return true })

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), "/reconciler.v1.Reconciler/ListJobs", &structpb.Struct{}, out))
	jobs := out.AsMap()["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].(map[string]any)["id"])
}

func TestHealth(t *testing.T) {
	conn, _ := setup(t, func() bool { return false })
	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
}

func TestHealth_Serving(t *testing.T) {
	conn, _ := setup(t, func() bool { return true })
	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)
}
