// Package mqtt publishes kvstore's change feed over MQTT.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained online/offline status with Last Will and Testament
//   - ChangeFeed, a kvdb.Observer that publishes committed writes
//   - Subscriptions for consumers of the feed (kvstore watch)
//
// # Topics
//
//	{prefix}/{database file}/changes   one JSON ChangeMessage per commit
//	{prefix}/system/status             retained StatusMessage
//
// Change messages list keys and operations only, never values.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	feed := mqtt.NewChangeFeed(client, client.Topics(), mqtt.FeedOptions{QoS: 1})
//	defer feed.Close()
//	dbCfg.Observers = append(dbCfg.Observers, feed)
package mqtt
