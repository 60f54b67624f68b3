// Package announce publishes dbscope lifecycle events over MQTT.
//
// It is an optional, publish-only integration: when enabled, the component
// announces engine startup/shutdown and finalization failures so operators
// and sibling services can observe database lifecycle health without
// scraping logs.
//
// # Topics
//
//	{prefix}/status            retained online/offline status (LWT backed)
//	{prefix}/engine/{name}     engine up/down events
//	{prefix}/session           finalization error events
//
// # Usage
//
//	ann, err := announce.Connect(cfg.Announce)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ann.Close()
//
//	ann.EngineUp("default", "sqlite3")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Publishes are fire-and-forget with a bounded acknowledgment wait.
package announce
