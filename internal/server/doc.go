// Package server runs the chat service: it accepts line-delimited JSON
// streams over TCP (and optionally WebSocket), binds each stream to a user
// as either its primary request/response channel or a supplemental update
// channel, and fans out user and message updates.
//
// Inbound lines travel through an eventbus so connection lifecycle and
// request handling stay decoupled; each connection still sees its own
// requests handled in order.
package server
