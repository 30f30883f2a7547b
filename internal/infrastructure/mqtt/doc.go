// Package mqtt connects reverie-core to an MQTT broker.
//
// It wraps eclipse/paho.mqtt.golang. The experiment relay publishes each
// output line of a run to reverie/experiment/<target>/output, and every
// instance subscribes to reverie/experiment/+/output to feed its local
// WebSocket subscribers. The service announces itself on the retained
// reverie/system/status topic, with a Last Will so a crash reads as
// offline.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(ctx, mqtt.Topics{}.AllExperimentOutput(), 1,
//	    func(topic string, payload []byte) error {
//	        ...
//	    })
//
// Handlers run on paho's goroutines. Panics inside them are recovered and
// logged.
package mqtt
