// Package ws streams inspection events to panel clients over WebSocket.
//
// A Hub follows the inspector manager's active source. Every client
// receives a welcome event with the current listing, then one event per
// change:
//
//	{"type":"source_changed","source":"...","info":{...}}
//	{"type":"inspection","source":"...","update":{"info":{...},"payload":[...]}}
//	{"type":"disposed","source":"..."}
//
// Clients may send {"type":"ping"}, {"type":"inspect"} or {"type":"snapshot"}.
// Slow clients whose buffer fills up are disconnected.
package ws
