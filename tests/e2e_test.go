// Package tests contains end-to-end tests for the UMICP node.
// These tests start an embedded NATS server and a node built by server.New, then talk to it
// over NATS the way a remote client would.
package tests

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/umicp/internal/config"
	"github.com/morezero/umicp/internal/server"
	"github.com/morezero/umicp/pkg/commsutil"
	"github.com/morezero/umicp/pkg/dispatcher"
	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/payload"
	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/transport"
	"github.com/morezero/umicp/pkg/types"
)

const (
	e2eTestPrefix = "tests:e2e_test"
	serverNodeID  = "server-001"
	clientNodeID  = "client-001"
)

// testEnv holds the test environment for E2E tests.
type testEnv struct {
	ns     *commsserver.Server
	nc     *comms.Conn
	srv    *server.Server
	client *transport.CommsPublisher
}

// setupE2E starts an embedded NATS server and a node with the journal disabled.
func setupE2E(t *testing.T, compression payload.Algorithm) *testEnv {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", e2eTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", e2eTestPrefix)
	}

	cfg := &config.Config{
		COMMSURL:             ns.ClientURL(),
		NodeID:               serverNodeID,
		RequestTimeout:       5 * time.Second,
		Compression:          "none",
		CompressionThreshold: 1024,
		ParallelThreshold:    10000,
		HealthCheckTimeout:   5 * time.Second,
	}

	ctx := context.Background()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - server.New failed: %v", e2eTestPrefix, err)
	}
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown(ctx)
		ns.Shutdown()
		t.Fatalf("%s - Start failed: %v", e2eTestPrefix, err)
	}

	nc, err := commsutil.Connect(ns.ClientURL(), clientNodeID)
	if err != nil {
		srv.Shutdown(ctx)
		ns.Shutdown()
		t.Fatalf("%s - client connect failed: %v", e2eTestPrefix, err)
	}

	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown(context.Background())
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return &testEnv{
		ns:  ns,
		nc:  nc,
		srv: srv,
		client: transport.NewCommsPublisher(nc, &transport.CommsPublisherOpts{
			Compression:          compression,
			CompressionThreshold: 16,
		}),
	}
}

func request(t *testing.T, env *testEnv, b *envelope.Builder) (*envelope.Envelope, *envelope.Envelope) {
	t.Helper()
	req, err := b.Build()
	if err != nil {
		t.Fatalf("%s - build: %v", e2eTestPrefix, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := env.client.Request(ctx, req)
	if err != nil {
		t.Fatalf("%s - request failed: %v", e2eTestPrefix, err)
	}
	return req, reply
}

func toServer(op types.OperationType) *envelope.Builder {
	return envelope.NewBuilder().From(clientNodeID).To(serverNodeID).Operation(op)
}

func capability(t *testing.T, e *envelope.Envelope, key string) string {
	t.Helper()
	v, ok := e.Capability(key)
	if !ok {
		t.Fatalf("%s - %s has no %q capability", e2eTestPrefix, e, key)
	}
	return v
}

func checkReply(t *testing.T, req, reply *envelope.Envelope, op types.OperationType) {
	t.Helper()
	if reply.Operation() != op {
		t.Fatalf("%s - reply op = %s, want %s (%s)", e2eTestPrefix, reply.Operation(), op, reply)
	}
	if reply.From() != serverNodeID || reply.To() != clientNodeID {
		t.Errorf("%s - reply addressed %s -> %s", e2eTestPrefix, reply.From(), reply.To())
	}
	if got := capability(t, reply, dispatcher.CapInReplyTo); got != req.MessageID() {
		t.Errorf("%s - in_reply_to = %q, want %q", e2eTestPrefix, got, req.MessageID())
	}
}

func TestE2E_ControlPing(t *testing.T) {
	env := setupE2E(t, payload.None)

	req, reply := request(t, env, toServer(types.OperationControl).Capability(dispatcher.CapControl, "ping"))

	checkReply(t, req, reply, types.OperationResponse)
	if got := capability(t, reply, dispatcher.CapControl); got != "pong" {
		t.Errorf("%s - control = %q, want pong", e2eTestPrefix, got)
	}
}

func TestE2E_KernelDotProduct(t *testing.T) {
	for _, alg := range []payload.Algorithm{payload.None, payload.LZ4, payload.Zstd} {
		t.Run(alg.String(), func(t *testing.T) {
			env := setupE2E(t, alg)

			a, _ := payload.InlineRef(dispatcher.RefA, []float32{1, 2, 3}, types.EncodingFloat32)
			b, _ := payload.InlineRef(dispatcher.RefB, []float32{4, 5, 6}, types.EncodingFloat32)
			req, reply := request(t, env, toServer(types.OperationRequest).
				Capability(dispatcher.CapKernelOp, dispatcher.OpDotProduct).
				PayloadRef(a).
				PayloadRef(b))

			checkReply(t, req, reply, types.OperationResponse)
			if got := capability(t, reply, dispatcher.CapResult); got != "32" {
				t.Errorf("%s - result = %q, want 32", e2eTestPrefix, got)
			}
		})
	}
}

func TestE2E_KernelMatrixMultiply(t *testing.T) {
	env := setupE2E(t, payload.None)

	a, _ := payload.InlineRef(dispatcher.RefA, []float32{1, 2, 3, 4}, types.EncodingFloat32)
	b, _ := payload.InlineRef(dispatcher.RefB, []float32{5, 6, 7, 8}, types.EncodingFloat32)
	req, reply := request(t, env, toServer(types.OperationRequest).
		Capability(dispatcher.CapKernelOp, dispatcher.OpMatrixMultiply).
		Capability("m", "2").Capability("n", "2").Capability("p", "2").
		PayloadRef(a).
		PayloadRef(b))

	checkReply(t, req, reply, types.OperationResponse)
	ref, ok := reply.PayloadRef(dispatcher.RefResult)
	if !ok {
		t.Fatalf("%s - reply has no result ref", e2eTestPrefix)
	}
	got, err := payload.ResolveInline(ref)
	if err != nil {
		t.Fatalf("%s - ResolveInline: %v", e2eTestPrefix, err)
	}
	want := []float32{19, 22, 43, 50}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s - result = %v, want %v", e2eTestPrefix, got, want)
		}
	}
}

func TestE2E_KernelDimensionMismatch(t *testing.T) {
	env := setupE2E(t, payload.None)

	a, _ := payload.InlineRef(dispatcher.RefA, []float32{1, 2, 3}, types.EncodingFloat32)
	b, _ := payload.InlineRef(dispatcher.RefB, []float32{4, 5}, types.EncodingFloat32)
	req, reply := request(t, env, toServer(types.OperationRequest).
		Capability(dispatcher.CapKernelOp, dispatcher.OpDotProduct).
		PayloadRef(a).
		PayloadRef(b))

	checkReply(t, req, reply, types.OperationError)
	if got := capability(t, reply, dispatcher.CapErrorKind); got != string(protoerr.KindMatrix) {
		t.Errorf("%s - error.kind = %q, want MATRIX", e2eTestPrefix, got)
	}
	if got := capability(t, reply, dispatcher.CapErrorCode); got != string(protoerr.ReasonDimensionMismatch) {
		t.Errorf("%s - error.code = %q, want DIMENSION_MISMATCH", e2eTestPrefix, got)
	}
}

func TestE2E_KernelOverflowDoesNotStopNode(t *testing.T) {
	env := setupE2E(t, payload.None)

	a, _ := payload.InlineRef(dispatcher.RefA, []float32{}, types.EncodingFloat32)
	req, reply := request(t, env, toServer(types.OperationRequest).
		Capability(dispatcher.CapKernelOp, dispatcher.OpNormalize).
		Capability("rows", "4611686018427387904").
		Capability("cols", "4").
		PayloadRef(a))
	checkReply(t, req, reply, types.OperationError)

	env.srv.Dispatcher().Handle(types.OperationData, dispatcher.HandlerFunc(
		func(context.Context, *envelope.Envelope, []byte) (*envelope.Envelope, error) {
			panic("handler failure")
		}))
	req, reply = request(t, env, toServer(types.OperationData))
	checkReply(t, req, reply, types.OperationError)
	if got := capability(t, reply, dispatcher.CapErrorKind); got != string(protoerr.KindGeneric) {
		t.Errorf("%s - error.kind = %q, want GENERIC", e2eTestPrefix, got)
	}

	req, reply = request(t, env, toServer(types.OperationControl).Capability(dispatcher.CapControl, "ping"))
	checkReply(t, req, reply, types.OperationResponse)
}

func TestE2E_DataAckWithoutJournal(t *testing.T) {
	env := setupE2E(t, payload.None)

	req, reply := request(t, env, toServer(types.OperationData).Capability("content-type", "application/json"))

	checkReply(t, req, reply, types.OperationAck)
	if got := capability(t, reply, dispatcher.CapJournal); got != "disabled" {
		t.Errorf("%s - journal = %q, want disabled", e2eTestPrefix, got)
	}
}

func TestE2E_UnknownSchemaRejected(t *testing.T) {
	env := setupE2E(t, payload.None)

	req, reply := request(t, env, toServer(types.OperationControl).
		Capability(dispatcher.CapControl, "ping").
		SchemaURI("missing.v9"))

	checkReply(t, req, reply, types.OperationError)
	if got := capability(t, reply, dispatcher.CapErrorCode); got != "NOT_FOUND" {
		t.Errorf("%s - error.code = %q, want NOT_FOUND", e2eTestPrefix, got)
	}
}

func TestE2E_InvalidJSON(t *testing.T) {
	env := setupE2E(t, payload.None)

	msg, err := env.nc.Request(commsutil.NodeSubject(serverNodeID), []byte(`{not json`), 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", e2eTestPrefix, err)
	}
	reply, _, err := transport.Decode(msg, 0)
	if err != nil {
		t.Fatalf("%s - decode reply: %v", e2eTestPrefix, err)
	}
	if reply.Operation() != types.OperationError || reply.To() != "unknown" {
		t.Errorf("%s - unexpected reply %s", e2eTestPrefix, reply)
	}
	if got := capability(t, reply, dispatcher.CapErrorKind); got != string(protoerr.KindSerialization) {
		t.Errorf("%s - error.kind = %q, want SERIALIZATION", e2eTestPrefix, got)
	}
}

func TestE2E_ConcurrentRequests(t *testing.T) {
	env := setupE2E(t, payload.None)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := toServer(types.OperationControl).Capability(dispatcher.CapControl, "ping").Build()
			if err != nil {
				errs <- err.Error()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			reply, err := env.client.Request(ctx, req)
			if err != nil {
				errs <- err.Error()
				return
			}
			if id, _ := reply.Capability(dispatcher.CapInReplyTo); id != req.MessageID() {
				errs <- "in_reply_to " + id + " != " + req.MessageID()
			}
		}()
	}
	wg.Wait()
	close(errs)

	var failures []string
	for e := range errs {
		failures = append(failures, e)
	}
	if len(failures) > 0 {
		t.Errorf("%s - %d of %d requests failed: %s", e2eTestPrefix, len(failures), n, strings.Join(failures, "; "))
	}
}

func TestE2E_Health(t *testing.T) {
	env := setupE2E(t, payload.None)

	h := env.srv.Health(context.Background())
	if h.Status != "healthy" || !h.Checks.Comms {
		t.Errorf("%s - unexpected health %+v", e2eTestPrefix, h)
	}
}
