// Package relay carries experiment output between service instances.
//
// Every instance delivers output to its own WebSocket clients through the
// local hub. When several instances share a broker, a broker relay also
// publishes each message there and feeds messages published by other
// instances into the local hub, so a client connected to any instance sees
// the output of runs launched on any other.
//
// Messages are wrapped in an Envelope carrying the publishing instance's
// origin ID. A relay skips envelopes it published itself; those were
// already delivered locally.
//
//	hub := api.NewHub(cfg.WebSocket, log)
//	remote := relay.NewRedis(store.Client(), hub, relay.WithLogger(log))
//	if err := remote.Start(ctx); err != nil { ... }
//	launcherRelay := relay.Fanout{hub, remote}
package relay
