// Package realtime is the application-facing client for the backend's
// realtime channel.
//
// A Client owns one logical connection. Connect opens it with a token fetched
// from the configured source, Send writes a message, Subscribe hands out a
// stream of decoded inbound messages, and Disconnect tears everything down.
// Unexpected connection loss is recovered automatically with exponential
// backoff; subscribers stay attached across recoveries.
//
//	client, err := realtime.NewFromConfig(cfg, logger)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Disconnect()
//
//	sub := client.Subscribe()
//	for ev := range sub.C() {
//		if ev.Err != nil {
//			logger.Warn("stream error", "error", ev.Err)
//			continue
//		}
//		handle(ev.Value)
//	}
package realtime
