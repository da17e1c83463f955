// Package ws provides a topic-based WebSocket pub/sub subsystem for the Qu web framework.
//
// # Features
//
//   - Zero-copy streaming frame codec (RFC 6455) over hijacked connections
//   - Topic-addressed event routing (Join / Message / Leave) with gin-style patterns
//   - rocket-multiplex sub-protocol: many topics over one physical connection
//   - Process-wide broker with bounded per-connection fan-out queues
//   - Optional cross-node relay over Redis pub/sub
//   - Keepalive pings, connection limits, graceful shutdown
//   - Pluggable logging, metrics and OpenTelemetry tracing
//
// # Basic Usage
//
// Create a hub, register event routes, finalize, and mount it on any
// HTTP mux (or via qu.Engine.WebSocket):
//
//	hub, err := ws.NewHub(
//	    ws.WithMaxConnections(10000),
//	    ws.WithCheckOriginWhitelist([]string{
//	        "https://example.com",
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Accept subscriptions to chat rooms
//	hub.Join("/chat/:room", func(e *ws.Event) ws.Outcome {
//	    return ws.Success()
//	})
//
//	// Broadcast every message to the room's subscribers
//	hub.Message("/chat/:room", func(e *ws.Event) ws.Outcome {
//	    text, err := e.Data.Bytes()
//	    if err != nil {
//	        return ws.Failure(ws.StatusInternalError)
//	    }
//	    hub.Publish(context.Background(), "/chat/"+e.Param("room"),
//	        ws.NewTextMessage(string(text)))
//	    return ws.Success()
//	})
//
//	if err := hub.Finalize(); err != nil {
//	    log.Fatal(err) // route collisions surface at startup
//	}
//	http.Handle("/", hub)
//
//	// Graceful shutdown
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	hub.Shutdown(ctx)
//
// # Multiplexing
//
// Clients that negotiate the rocket-multiplex sub-protocol share one
// physical connection across topics. Data messages carry a topic
// prefix terminated by U+00B7; control messages subscribe and
// unsubscribe at runtime:
//
//	·SUBSCRIBE·/chat/go
//	/chat/go·hello everyone
//	·UNSUBSCRIBE·/chat/go
//
// Each successful SUBSCRIBE runs the topic's Join route and registers
// the connection with the broker, so multiplexed and plain connections
// are indistinguishable to handlers.
//
// # Cross-node Relay
//
// With a relay configured, Publish reaches subscribers on every node:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	hub, _ := ws.NewHub(ws.WithRelay(ws.NewRedisRelay(rdb)))
package ws
