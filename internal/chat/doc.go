// Package chat is the transport-neutral chat front-end.
//
// A Frontend receives Events from one Transport (Matrix, Discord), keeps the
// connect menus, and turns text into agent requests through the lifecycle
// manager. Owners are "<transport>:<user id>", so several front-ends can
// share one session registry and lifecycle manager.
//
// Per owner the bot is either unconnected or connected; the state lives in
// the session registry. Text from an unconnected owner gets a fixed
// instruction and never reaches the agent. A new message or an edit inside
// the edit window supersedes the owner's in-flight request; the superseded
// reply is discarded.
//
// Replies are split into chunks of at most the transport limit. The first
// chunk replies to the user's message; failure buttons (retry, cancel) sit on
// the last chunk. A message the transport rejects for its formatting is sent
// again as plain text.
package chat
