package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/umicp/pkg/envelope"
	"github.com/morezero/umicp/pkg/payload"
	"github.com/morezero/umicp/pkg/protoerr"
	"github.com/morezero/umicp/pkg/types"
)

const itPrefix = "transport:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server on a random port.
func startTestServer(t *testing.T) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", itPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", itPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", itPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return nc, cleanup
}

func TestCommsPublisher_PublishToInbox(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Compression: payload.Zstd, CompressionThreshold: 64})

	received := make(chan *comms.Msg, 1)
	sub, err := nc.Subscribe("umicp.node.server-001", func(msg *comms.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", itPrefix, err)
	}
	defer sub.Unsubscribe()

	e := testEnvelope(t, 4000)
	if err := publisher.Publish(context.Background(), e); err != nil {
		t.Fatalf("%s - Publish failed: %v", itPrefix, err)
	}
	nc.Flush()

	select {
	case msg := <-received:
		if msg.Header.Get(HeaderCompression) != "zstd" {
			t.Errorf("%s - expected zstd compression header", itPrefix)
		}
		got, _, err := Decode(msg, 0)
		if err != nil {
			t.Fatalf("%s - Decode: %v", itPrefix, err)
		}
		if !envelope.Equal(e, got) {
			t.Errorf("%s - received envelope differs", itPrefix)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for envelope", itPrefix)
	}
}

func TestCommsPublisher_EventFanout(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{EventFanout: true})

	inbox := make(chan bool, 1)
	events := make(chan bool, 1)

	sub1, err := nc.Subscribe("umicp.node.server-001", func(*comms.Msg) { inbox <- true })
	if err != nil {
		t.Fatalf("%s - subscribe inbox failed: %v", itPrefix, err)
	}
	defer sub1.Unsubscribe()

	sub2, err := nc.Subscribe("umicp.events.>", func(msg *comms.Msg) {
		if msg.Subject == "umicp.events.data" {
			events <- true
		}
	})
	if err != nil {
		t.Fatalf("%s - subscribe events failed: %v", itPrefix, err)
	}
	defer sub2.Unsubscribe()

	if err := publisher.Publish(context.Background(), testEnvelope(t, 1)); err != nil {
		t.Fatalf("%s - Publish failed: %v", itPrefix, err)
	}
	nc.Flush()

	for _, ch := range []struct {
		name string
		ch   chan bool
	}{
		{"inbox", inbox},
		{"events", events},
	} {
		select {
		case <-ch.ch:
		case <-time.After(5 * time.Second):
			t.Errorf("%s - timeout waiting for %s", itPrefix, ch.name)
		}
	}
}

func TestCommsPublisher_RequestReply(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	sub, err := nc.Subscribe("umicp.node.server-001", func(msg *comms.Msg) {
		req, _, err := Decode(msg, 0)
		if err != nil {
			t.Errorf("%s - decode request: %v", itPrefix, err)
			return
		}
		resp, err := envelope.NewBuilder().
			From(req.To()).
			To(req.From()).
			Operation(types.OperationResponse).
			Capability("in_reply_to", req.MessageID()).
			Build()
		if err != nil {
			t.Errorf("%s - build reply: %v", itPrefix, err)
			return
		}
		if err := publisher.Reply(msg, resp); err != nil {
			t.Errorf("%s - reply: %v", itPrefix, err)
		}
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", itPrefix, err)
	}
	defer sub.Unsubscribe()

	req := testEnvelope(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := publisher.Request(ctx, req)
	if err != nil {
		t.Fatalf("%s - Request: %v", itPrefix, err)
	}
	if resp.Operation() != types.OperationResponse {
		t.Errorf("%s - op = %s, want response", itPrefix, resp.Operation())
	}
	if v, _ := resp.Capability("in_reply_to"); v != req.MessageID() {
		t.Errorf("%s - in_reply_to = %q, want %q", itPrefix, v, req.MessageID())
	}
}

func TestCommsPublisher_RequestNoResponders(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := publisher.Request(ctx, testEnvelope(t, 1))
	if !errors.Is(err, protoerr.ErrTransport) {
		t.Fatalf("%s - err = %v, want Transport", itPrefix, err)
	}
}

func TestNewCommsPublisher_DefaultsToServerMaxPayload(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)
	if publisher.opts.MaxPayloadSize != int(nc.MaxPayload()) {
		t.Errorf("%s - MaxPayloadSize = %d, want %d", itPrefix, publisher.opts.MaxPayloadSize, nc.MaxPayload())
	}
}
