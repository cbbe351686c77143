// Package testutil provides test doubles and fixtures shared by the gateway's
// package tests.
//
// Broker is an in-memory transport.PubSub. It records every publish per topic,
// delivers to MQTT-style topic filters, and can answer requests through a
// responder, which is how DCC tests play the cloud side:
//
//	b := testutil.NewConnectedBroker(t)
//	b.SetResponder(func(topic string, payload []byte) {
//	    b.Deliver("liota/edge/response", reply(payload))
//	})
//
// StartNATSServer runs an embedded NATS server with JetStream for tests of the
// NATS transport and the KV identity store; no external server is needed.
package testutil
