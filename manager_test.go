package mqlink

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gonzalop/mqlink/internal/packets"
)

func TestManagerConnect(t *testing.T) {
	addr := startBroker(t, v311Broker(0, false, nil))
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	mgr := NewManager(noEnv, WithProtocolVersion(ProtocolV311), WithMetrics(m))
	ctx := testContext(t)

	c1, err := mgr.Connect(ctx, "tcp://"+addr, WithClientID("one"))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c2, err := mgr.Connect(ctx, "tcp://"+addr, WithClientID("two"))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if c1.SocketID() == c2.SocketID() {
		t.Fatalf("socket identifiers must be unique, both are %q", c1.SocketID())
	}
	if got := mgr.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.RegisteredClients); got != 2 {
		t.Errorf("registered_clients = %v, want 2", got)
	}
	if got, ok := mgr.Lookup(c1.SocketID()); !ok || got != c1 {
		t.Errorf("Lookup(%q) = %v, %v", c1.SocketID(), got, ok)
	}

	if err := mgr.Disconnect(ctx, c1); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if mgr.Len() != 1 || c1.IsConnected() {
		t.Errorf("after Disconnect: Len=%d connected=%v", mgr.Len(), c1.IsConnected())
	}

	if err := mgr.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if mgr.Len() != 0 || c2.IsConnected() {
		t.Errorf("after Close: Len=%d connected=%v", mgr.Len(), c2.IsConnected())
	}
	if got := testutil.ToFloat64(m.RegisteredClients); got != 0 {
		t.Errorf("registered_clients = %v, want 0", got)
	}
}

func TestManagerConnectFailure(t *testing.T) {
	addr := startBroker(t, v311Broker(5, false, nil))
	mgr := NewManager(noEnv, WithProtocolVersion(ProtocolV311))

	c, err := mgr.Connect(testContext(t), addr)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Connect = %v, want ErrNotAuthorized", err)
	}
	if c != nil {
		t.Error("expected nil client on failure")
	}
	if mgr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", mgr.Len())
	}
}

func TestManagerPingresp(t *testing.T) {
	addr := startBroker(t, v311Broker(0, false, nil))
	mgr := NewManager(noEnv, WithProtocolVersion(ProtocolV311))
	ctx := testContext(t)
	defer mgr.Close(ctx)

	c, err := mgr.Connect(ctx, addr)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if !c.PingOutstanding() {
		t.Error("expected outstanding ping")
	}

	pkt, err := packets.ReadPacket(c.Conn(), ProtocolV311)
	if err != nil {
		t.Fatalf("reading PINGRESP: %v", err)
	}
	if _, ok := pkt.(*packets.PingrespPacket); !ok {
		t.Fatalf("got %T, want *packets.PingrespPacket", pkt)
	}

	if err := mgr.HandlePingresp(c.SocketID()); err != nil {
		t.Fatalf("HandlePingresp failed: %v", err)
	}
	if c.PingOutstanding() {
		t.Error("ping still outstanding after PINGRESP")
	}
	if stats := c.GetStats(); stats.PacketsSent != 2 || stats.PacketsReceived != 2 {
		t.Errorf("stats = %+v, want 2 sent and 2 received", stats)
	}

	if err := mgr.HandlePingresp("no-such-socket"); !errors.Is(err, ErrUnknownSocket) {
		t.Errorf("HandlePingresp(unknown) = %v, want ErrUnknownSocket", err)
	}
}

func TestManagerInsertRemove(t *testing.T) {
	mgr := NewManager()

	if err := mgr.Insert(NewClient()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Insert(unconnected) = %v, want ErrNotConnected", err)
	}
	if mgr.Remove("missing") {
		t.Error("Remove(missing) = true")
	}
	if _, ok := mgr.Lookup("missing"); ok {
		t.Error("Lookup(missing) found a client")
	}
}

func TestManagerClientCloseUnregisters(t *testing.T) {
	addr := startBroker(t, v311Broker(0, false, nil))
	mgr := NewManager(noEnv, WithProtocolVersion(ProtocolV311))
	ctx := testContext(t)

	closed, err := mgr.Connect(ctx, "tcp://"+addr, WithClientID("closed"))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	disconnected, err := mgr.Connect(ctx, "tcp://"+addr, WithClientID("disconnected"))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	closedID := closed.SocketID()
	disconnectedID := disconnected.SocketID()
	if mgr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", mgr.Len())
	}

	closed.Close()
	if _, ok := mgr.Lookup(closedID); ok {
		t.Error("closed client still registered")
	}
	if mgr.Len() != 1 {
		t.Errorf("Len() after Close = %d, want 1", mgr.Len())
	}

	if err := disconnected.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if _, ok := mgr.Lookup(disconnectedID); ok {
		t.Error("disconnected client still registered")
	}
	if mgr.Len() != 0 {
		t.Errorf("Len() after Disconnect = %d, want 0", mgr.Len())
	}
	if err := mgr.Close(ctx); err != nil {
		t.Errorf("manager Close failed: %v", err)
	}
}

func TestPingNotConnected(t *testing.T) {
	c := NewClient()
	if err := c.Ping(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping = %v, want ErrNotConnected", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect on idle client = %v, want nil", err)
	}
}
