// Package mqlink establishes MQTT connections through layered transports.
//
// A connection attempt runs through a fixed sequence of stages: the socket
// connect, an optional HTTP CONNECT proxy tunnel, an optional TLS
// handshake, an optional WebSocket upgrade, and finally the MQTT CONNECT
// packet, after which the client waits for CONNACK. A stage whose I/O has
// not finished parks the attempt; the caller waits on Client.Ready and
// calls Client.Resume, so one goroutine can drive many clients.
//
// # Quick Start
//
// Connect and wait for CONNACK:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//
//	client, err := mqlink.Dial(ctx, "tls://broker.example.com",
//	    mqlink.WithClientID("sensor-1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
// Drive the stages yourself:
//
//	client := mqlink.NewClient(mqlink.WithClientID("sensor-1"))
//	err := client.Connect(ctx, "broker.example.com", mqlink.Capabilities{TLS: true})
//	for errors.Is(err, mqlink.ErrInProgress) {
//	    <-client.Ready()
//	    err = client.Resume(ctx)
//	}
//	if err == nil {
//	    err = client.AwaitConnAck(ctx)
//	}
//
// # Proxies
//
// An HTTP proxy is configured per client with WithHTTPProxy (plain
// connections) and WithHTTPSProxy (TLS connections). Without them, and
// only when MQTT_CLIENT_USE_HTTP_PROXY is set to TRUE, the client uses
// http_proxy or https_proxy from the environment unless the destination
// matches no_proxy. Credentials in the proxy URL are sent as Basic auth.
//
// WithSOCKS5Proxy adds a SOCKS5 hop below all other layers.
//
// # Errors
//
// ErrInProgress means "keep waiting" and is never a failure. A failed
// attempt returns a *ConnectError naming the stage it failed in, and the
// client is back in StageIdle. Use errors.Is with ErrInvalidConfig,
// ErrTransport, ErrProxyRejected, ErrProxyTimeout or ErrConnectionRefused
// to classify it.
//
// # Connection Manager
//
// A Manager maps socket identifiers to connected clients, so a reader that
// receives a packet on a socket can find its client:
//
//	m := mqlink.NewManager(mqlink.WithLogger(logger))
//	client, err := m.Connect(ctx, "tcp://localhost:1883")
//	...
//	err = m.HandlePingresp(client.SocketID())
package mqlink
