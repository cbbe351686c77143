// Package config loads the gateway configuration.
//
// A Loader starts from Defaults, deep-merges each JSON layer in order, applies
// LIOTA_* environment overrides and validates the result. Objects merge key
// by key; arrays such as devices and metrics are replaced by the later layer.
//
// Durations may be written as strings ("5s", "2m", "14d") under the known
// duration keys, or as integer nanoseconds.
//
// # Basic Usage
//
//	loader := config.NewLoader(nil)
//	loader.AddLayer("/etc/liota/gateway.json")
//	loader.AddLayer("/etc/liota/site.json") // overrides gateway.json
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment
//
// LIOTA_EDGE_SYSTEM_NAME, LIOTA_LOG_LEVEL, LIOTA_LOG_FORMAT, LIOTA_LOG_FILE,
// LIOTA_METRICS_ADDR, LIOTA_TRANSPORT_KIND, LIOTA_TRANSPORT_URL,
// LIOTA_TRANSPORT_CLIENT_ID, LIOTA_DCC_KIND, LIOTA_DCC_USERNAME,
// LIOTA_DCC_PASSWORD, LIOTA_DCC_WEBSOCKET_URL, LIOTA_CACHE_DIR,
// LIOTA_IDENTITY_PATH and LIOTA_AGENT_RATE_LIMIT override the matching
// settings. LIOTA_TRANSPORT_URL applies to the selected transport kind.
//
// # Validation
//
// Field rules are struct tags checked by go-playground/validator. Rules that
// span sections are checked afterwards: a TLS broker scheme needs a root CA,
// a NATS identity store needs the NATS transport, the WebSocket comms need a
// URL and an IoTCC provider, and device and metric names are unique per
// parent. Every failure matches errors.ErrInvalidConfig.
package config
