// Package mqtt provides optional MQTT connectivity for warden.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Lifecycle event publishing with QoS guarantees
//   - Command topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is warden's outward integration surface for home-automation and
// monitoring setups. Every journal event is mirrored to
// warden/event/<app_id>, warden/status carries a retained
// online/offline marker, and warden/command/<app_id> accepts
// start/stop/restart requests from other systems.
//
//	Dashboards / Automations ↔ MQTT Broker ↔ warden
//
// The whole package is optional: with mqtt disabled in config, Connect
// returns ErrDisabled and warden runs with journal and WebSocket
// delivery only.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    client = nil // run without eventing
//	} else if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Publish a lifecycle event
//	topic := mqtt.Topics{}.AppEvent("dashboard")
//	client.PublishEvent(topic, eventJSON)
//
//	// Accept lifecycle commands
//	err = client.Subscribe(mqtt.Topics{}.AllAppCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
package mqtt
