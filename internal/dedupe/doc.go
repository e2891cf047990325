// Package dedupe provides a TTL cache of event keys.
//
// Transports use one cache to drop events the homeserver or gateway
// delivers twice. The chat front-end uses another, with the edit response
// timeout as TTL, to decide whether an edited message is recent enough to
// re-run the agent.
package dedupe
