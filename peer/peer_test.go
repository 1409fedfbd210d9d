package peer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xtaci/ipcmux/frame"
	"github.com/xtaci/ipcmux/handshake"
	"github.com/xtaci/ipcmux/schema"
)

func dialPair(t *testing.T, serverHCfg, clientHCfg handshake.Config, serverCfg, clientCfg Config) (*Peer, *Peer, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.sock")

	pl, err := Listen(path, 0o600, serverHCfg, serverCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	type acceptResult struct {
		p   *Peer
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		p, err := pl.Accept()
		accepted <- acceptResult{p, err}
	}()

	client, err := Connect(path, clientHCfg, clientCfg)
	if err != nil {
		pl.Close()
		t.Fatalf("connect: %v", err)
	}

	res := <-accepted
	if res.err != nil {
		client.Close()
		pl.Close()
		t.Fatalf("accept: %v", res.err)
	}

	cleanup := func() {
		client.Close()
		res.p.Close()
		pl.Close()
	}
	return client, res.p, cleanup
}

func baseConfigs(channels []uint16) (handshake.Config, handshake.Config) {
	hcfg := handshake.Config{Protocol: "ipcmux", Version: "1.0", Channels: channels, Timeout: time.Second}
	return hcfg, hcfg
}

func TestPeerBasicRoundTrip(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	if !client.SupportsChannel(frame.Data) || !server.SupportsChannel(frame.Data) {
		t.Fatalf("expected channel %d negotiated on both ends", frame.Data)
	}

	if err := client.Send(frame.Data, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	f, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(f.Payload) != "hello" || f.Channel != frame.Data {
		t.Fatalf("got frame %+v", f)
	}
}

func TestPeerChannelIntersection(t *testing.T) {
	serverH := handshake.Config{Protocol: "ipcmux", Version: "1.0", Channels: []uint16{frame.Data, frame.Telemetry}, Timeout: time.Second}
	clientH := handshake.Config{Protocol: "ipcmux", Version: "1.0", Channels: []uint16{frame.Telemetry, 300}, Timeout: time.Second}
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	want := []uint16{frame.Telemetry}
	if len(client.Channels()) != 1 || client.Channels()[0] != want[0] {
		t.Fatalf("client channels = %v, want %v", client.Channels(), want)
	}
	if server.SupportsChannel(300) || server.SupportsChannel(frame.Data) {
		t.Fatalf("server channels = %v, want only telemetry", server.Channels())
	}
}

func TestPeerUnsupportedChannelRejected(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, _, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	err := client.Send(frame.Telemetry, []byte("x"))
	if err == nil {
		t.Fatalf("want unsupported_channel error")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != UnsupportedChannel {
		t.Fatalf("got %v", err)
	}
}

func TestPeerRecvOnSelective(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data, frame.Telemetry})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	if err := client.Send(frame.Telemetry, []byte("metric")); err != nil {
		t.Fatalf("send telemetry: %v", err)
	}
	if err := client.Send(frame.Data, []byte("payload")); err != nil {
		t.Fatalf("send data: %v", err)
	}

	f, err := server.RecvOn(frame.Data)
	if err != nil {
		t.Fatalf("recv on data: %v", err)
	}
	if string(f.Payload) != "payload" {
		t.Fatalf("got %q", f.Payload)
	}

	f2, err := server.RecvOn(frame.Telemetry)
	if err != nil {
		t.Fatalf("recv on telemetry: %v", err)
	}
	if string(f2.Payload) != "metric" {
		t.Fatalf("got %q", f2.Payload)
	}
}

func TestPeerRecvOnBufferFull(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data, frame.Telemetry})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{RecvOnBufferCap: 1}, Config{})
	defer cleanup()

	if err := client.Send(frame.Telemetry, []byte("a")); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if err := client.Send(frame.Telemetry, []byte("b")); err != nil {
		t.Fatalf("send 2: %v", err)
	}

	_, err := server.RecvOn(frame.Data)
	if err == nil {
		t.Fatalf("want buffer_full error")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Kind != BufferFull {
		t.Fatalf("got %v", err)
	}
}

func TestPeerPing(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{PingTimeout: time.Second})
	defer cleanup()

	done := make(chan struct{})
	go func() {
		server.Recv()
		close(done)
	}()

	rtt, err := client.Ping()
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if rtt < 0 {
		t.Fatalf("negative rtt: %v", rtt)
	}
}

func TestPeerGracefulShutdown(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{ShutdownTimeout: time.Second})
	defer cleanup()

	serverDone := make(chan error, 1)
	go func() {
		_, err := server.Recv()
		serverDone <- err
	}()

	if err := client.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	err := <-serverDone
	if err == nil {
		t.Fatalf("want disconnected error on server side after shutdown")
	}
}

func TestPeerSchemaGateRejectsThenAccepts(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	reg := schema.NewRegistry(schema.DefaultRegistryConfig())
	if err := reg.Register(frame.Data, []byte(`{"type":"object","required":["kind"],"properties":{"kind":{"type":"string"}}}`)); err != nil {
		t.Fatalf("register schema: %v", err)
	}

	client, server, cleanup := dialPair(t, serverH, clientH,
		Config{SchemaRegistry: reg}, Config{SchemaRegistry: reg})
	defer cleanup()

	if err := client.Send(frame.Data, []byte(`{"oops":true}`)); err == nil {
		t.Fatalf("want schema validation error")
	}
	if err := client.Send(frame.Data, []byte(`{"kind":"x"}`)); err != nil {
		t.Fatalf("valid payload should pass: %v", err)
	}
	f, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(f.Payload) != `{"kind":"x"}` {
		t.Fatalf("got %q", f.Payload)
	}
}

func TestPeerStatsTrackSendAndReset(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	if err := client.Send(frame.Data, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := server.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}

	cs := client.Stats()
	if cs.FramesSent != 1 || cs.BytesSent != 5 {
		t.Fatalf("client stats = %+v", cs)
	}
	ss := server.Stats()
	if ss.FramesRecv != 1 || ss.BytesRecv != 5 {
		t.Fatalf("server stats = %+v", ss)
	}

	client.ResetStats()
	if cs := client.Stats(); cs.FramesSent != 0 {
		t.Fatalf("expected reset stats, got %+v", cs)
	}
}

func TestSessionUsesDistinctReadWriteStreams(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	if client.readStream == client.writeStream {
		t.Fatalf("client session should hold distinct cloned read/write streams")
	}
	if server.readStream == server.writeStream {
		t.Fatalf("server session should hold distinct cloned read/write streams")
	}
}

func TestWrapHandshakeErrPreservesDisconnected(t *testing.T) {
	he := &handshake.Error{Kind: handshake.Disconnected}
	if err := wrapHandshakeErr(he); err.Kind != Disconnected {
		t.Fatalf("want Disconnected kind, got %v", err.Kind)
	}
}

func TestWrapHandshakeErrDefaultsToHandshakeFailed(t *testing.T) {
	he := &handshake.Error{Kind: handshake.Failed}
	if err := wrapHandshakeErr(he); err.Kind != HandshakeFailed {
		t.Fatalf("want HandshakeFailed kind, got %v", err.Kind)
	}
}

func TestSendOversizePayloadLeavesSessionOpen(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	client, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	big := make([]byte, frame.DefaultMaxPayload+1)
	if err := client.Send(frame.Data, big); err == nil {
		t.Fatalf("want rejection of oversize payload")
	}
	if client.getPhase() == phaseClosed {
		t.Fatalf("oversize local rejection should not close the session")
	}

	if err := client.Send(frame.Data, []byte("still open")); err != nil {
		t.Fatalf("session should remain usable after oversize rejection: %v", err)
	}
	f, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(f.Payload) != "still open" {
		t.Fatalf("got %q", f.Payload)
	}
}

func TestPeerCloseUnblocksRecv(t *testing.T) {
	serverH, clientH := baseConfigs([]uint16{frame.Data})
	_, server, cleanup := dialPair(t, serverH, clientH, Config{}, Config{})
	defer cleanup()

	errs := make(chan error, 1)
	go func() {
		_, err := server.Recv()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	server.Close()

	err := <-errs
	if err == nil {
		t.Fatalf("want error after close")
	}
}
