package mqlink

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/gorilla/websocket"

	"github.com/gonzalop/mqlink/internal/packets"
)

// brokerFunc serves one accepted connection.
type brokerFunc func(t *testing.T, conn net.Conn)

// startBroker listens on loopback and runs serve for every connection.
// It returns the listener address.
func startBroker(t *testing.T, serve brokerFunc) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serveListener(t, ln, serve)
	return ln.Addr().String()
}

func serveListener(t *testing.T, ln net.Listener, serve brokerFunc) {
	t.Helper()
	var wg sync.WaitGroup
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				serve(t, conn)
			}()
		}
	}()
}

// v311Broker accepts a v3.1.1 CONNECT decoded by paho, answers with the
// given return code, then answers PINGREQ until DISCONNECT. Received
// CONNECT packets are sent to connects when it is not nil.
func v311Broker(returnCode byte, sessionPresent bool, connects chan<- *paho.ConnectPacket) brokerFunc {
	return func(t *testing.T, conn net.Conn) {
		cp, err := paho.ReadPacket(conn)
		if err != nil {
			return
		}
		connect, ok := cp.(*paho.ConnectPacket)
		if !ok {
			t.Errorf("broker expected CONNECT, got %T", cp)
			return
		}
		if connects != nil {
			connects <- connect
		}

		ack := paho.NewControlPacket(paho.Connack).(*paho.ConnackPacket)
		ack.ReturnCode = returnCode
		ack.SessionPresent = sessionPresent
		if err := ack.Write(conn); err != nil {
			return
		}
		serveSession(conn)
	}
}

// serveSession answers PINGREQ with PINGRESP until DISCONNECT or EOF.
func serveSession(conn io.ReadWriter) {
	for {
		cp, err := paho.ReadPacket(conn)
		if err != nil {
			return
		}
		switch cp.(type) {
		case *paho.PingreqPacket:
			if err := paho.NewControlPacket(paho.Pingresp).Write(conn); err != nil {
				return
			}
		case *paho.DisconnectPacket:
			return
		}
	}
}

// readFrame reads one raw MQTT packet, for protocol versions paho cannot
// decode.
func readFrame(r io.Reader) (byte, []byte, error) {
	h, err := packets.DecodeFixedHeader(r)
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, h.RemainingLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return h.PacketType, body, nil
}

// v5Connack encodes a v5.0 CONNACK with an optional reason string and
// assigned client identifier.
func v5Connack(reason byte, reasonString, assignedID string, keepAlive uint16) []byte {
	var props []byte
	appendStr := func(id byte, s string) {
		props = append(props, id)
		props = binary.BigEndian.AppendUint16(props, uint16(len(s)))
		props = append(props, s...)
	}
	if assignedID != "" {
		appendStr(0x12, assignedID)
	}
	if keepAlive != 0 {
		props = append(props, 0x13)
		props = binary.BigEndian.AppendUint16(props, keepAlive)
	}
	if reasonString != "" {
		appendStr(0x1F, reasonString)
	}

	body := []byte{0, reason, byte(len(props))}
	body = append(body, props...)
	return append([]byte{packets.CONNACK << 4, byte(len(body))}, body...)
}

// v5Broker reads a CONNECT frame and answers with connack.
func v5Broker(connack []byte) brokerFunc {
	return func(t *testing.T, conn net.Conn) {
		typ, body, err := readFrame(conn)
		if err != nil {
			return
		}
		if typ != packets.CONNECT {
			t.Errorf("broker expected CONNECT, got type %d", typ)
			return
		}
		if level := body[6]; level != ProtocolV50 {
			t.Errorf("protocol level = %d, want 5", level)
		}
		if _, err := conn.Write(connack); err != nil {
			return
		}
		_, _, _ = readFrame(conn)
	}
}

// startConnectProxy runs an HTTP CONNECT proxy. respond returns the status
// line for a request; a 200 status opens the tunnel. Requests are sent to
// the returned channel.
func startConnectProxy(t *testing.T, respond func(*http.Request) string) (string, <-chan *http.Request) {
	t.Helper()
	requests := make(chan *http.Request, 10)
	addr := startBroker(t, func(t *testing.T, conn net.Conn) {
		br := bufio.NewReader(conn)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		requests <- req

		status := respond(req)
		if _, err := io.WriteString(conn, status+"\r\nProxy-agent: test\r\n\r\n"); err != nil {
			return
		}
		if !strings.HasPrefix(status, "HTTP/1.1 200") && !strings.HasPrefix(status, "HTTP/1.0 200") {
			return
		}

		upstream, err := net.Dial("tcp", req.Host)
		if err != nil {
			return
		}
		defer upstream.Close()
		pipe(upstream, conn, br)
	})
	return addr, requests
}

func allowProxy(*http.Request) string { return "HTTP/1.1 200 Connection established" }

// pipe copies between a and b until either side closes. Bytes already
// buffered in br are forwarded first.
func pipe(upstream, downstream net.Conn, br *bufio.Reader) {
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, br)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(downstream, upstream)
		done <- struct{}{}
	}()
	<-done
}

// startSOCKS5 runs a SOCKS5 proxy without authentication that supports
// CONNECT to IPv4 and domain addresses. Targets are sent to the returned
// channel.
func startSOCKS5(t *testing.T) (string, <-chan string) {
	t.Helper()
	targets := make(chan string, 10)
	addr := startBroker(t, func(t *testing.T, conn net.Conn) {
		br := bufio.NewReader(conn)

		// Greeting: VER NMETHODS METHODS...
		hdr := make([]byte, 2)
		if _, err := io.ReadFull(br, hdr); err != nil || hdr[0] != 5 {
			return
		}
		if _, err := io.ReadFull(br, make([]byte, hdr[1])); err != nil {
			return
		}
		if _, err := conn.Write([]byte{5, 0}); err != nil {
			return
		}

		// Request: VER CMD RSV ATYP DST.ADDR DST.PORT
		req := make([]byte, 4)
		if _, err := io.ReadFull(br, req); err != nil || req[1] != 1 {
			return
		}
		var host string
		switch req[3] {
		case 1:
			ip := make([]byte, 4)
			if _, err := io.ReadFull(br, ip); err != nil {
				return
			}
			host = net.IP(ip).String()
		case 3:
			n, err := br.ReadByte()
			if err != nil {
				return
			}
			name := make([]byte, n)
			if _, err := io.ReadFull(br, name); err != nil {
				return
			}
			host = string(name)
		default:
			return
		}
		port := make([]byte, 2)
		if _, err := io.ReadFull(br, port); err != nil {
			return
		}
		target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port))))
		targets <- target

		upstream, err := net.Dial("tcp", target)
		if err != nil {
			_, _ = conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
			return
		}
		defer upstream.Close()
		if _, err := conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
			return
		}
		pipe(upstream, conn, br)
	})
	return addr, targets
}

// startWebSocketBroker runs an MQTT broker behind a WebSocket endpoint.
// It returns the host:port of the server; the negotiated subprotocol and
// the request path are sent to the returned channel.
func startWebSocketBroker(t *testing.T) (string, <-chan string) {
	t.Helper()
	seen := make(chan string, 10)
	upgrader := websocket.Upgrader{Subprotocols: []string{"mqtt", "mqttv3.1"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		seen <- ws.Subprotocol() + " " + r.URL.Path

		typ, msg, err := ws.ReadMessage()
		if err != nil || typ != websocket.BinaryMessage {
			return
		}
		cp, err := paho.ReadPacket(bytes.NewReader(msg))
		if err != nil {
			t.Errorf("websocket broker: %v", err)
			return
		}
		if _, ok := cp.(*paho.ConnectPacket); !ok {
			t.Errorf("websocket broker expected CONNECT, got %T", cp)
			return
		}

		var out bytes.Buffer
		ack := paho.NewControlPacket(paho.Connack).(*paho.ConnackPacket)
		if err := ack.Write(&out); err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, out.Bytes()); err != nil {
			return
		}
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	return strings.TrimPrefix(srv.URL, "http://"), seen
}

// stageRecorder collects stage transitions.
type stageRecorder struct {
	mu     sync.Mutex
	stages []Stage
}

func (r *stageRecorder) record(_, to Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, to)
}

func (r *stageRecorder) get() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.stages...)
}

// testCertificate returns a self-signed certificate for 127.0.0.1.
func testCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mqlink test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
