/*
Package sync implements the Reactor that exchanges chain data with peers.

The reactor has one p2p channel. Every inbound envelope carries a tagged
message (see package message). Requests from peers are answered from the
local DBManager: block headers and blocks by hash, snapshot manifests and
chunks through a statesync.Provider. Responses to our own requests are
first matched against the request manager, which drops late and unknown
responses, and are then verified and persisted, or handed to the snapshot
Syncer.

Outbound requests go through the request manager, so a resource is never
requested twice at once; requests that time out are resent to other peers
until their resend ceiling is reached.
*/
package sync
