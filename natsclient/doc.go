// Package natsclient is the NATS implementation of transport.PubSub.
//
// Topics are slash-separated, as on MQTT brokers, and are mapped to NATS
// subjects by Subject: "liota/edge-1/request" becomes "liota.edge-1.request",
// "+" becomes "*" and "#" becomes ">".
//
// # Delivery
//
// QoS 0 publishes and subscriptions use core NATS. When a stream is
// configured with WithStream, QoS 1 and 2 publishes go to JetStream with
// PublishAsync; WithQoS bounds the number of unacknowledged publishes and
// acknowledgements are tracked in the background. With clean session off, QoS
// 1 and 2 subscriptions are durable consumers named after the client, so
// messages published while the gateway was down are delivered after restart.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("edge-1"),
//	    natsclient.WithCleanSession(false),
//	    natsclient.WithStream("LIOTA", "liota.>"),
//	    natsclient.WithQoS(transport.QoSDetails{MaxInFlight: 64}),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect(ctx)
//
// # Connection state
//
// The client follows transport.StateMachine. Connect blocks until the server
// accepts the connection or the connect timeout passes. A network error while
// connected moves the client to Disconnected and runs the disconnect hooks;
// the NATS library then reconnects in the background and the client returns
// to Connected. Disconnect drains subscriptions and pending publishes.
//
// # Key-Value
//
// CreateKeyValueBucket and KVStore expose JetStream KV with compare-and-swap
// updates. The identity package stores the gateway's registration record in a
// bucket through KVStore.
package natsclient
