// Package lnnode and its sub-packages implement a lightning node service: a coordination layer on top of a channel
// engine that keeps a ledger of payments, reacts to protocol events and serves an operator REST API.
/*
lnnode provides you with two programs:

1) a node service (cmd/node) that connects to the channel engine, the on-chain wallet, the database and the message
 broker configured in a JSON config file, and serves the REST API.

2) a command line client (cmd/cli) that turns `cli <command> [args]` into requests to the API.

Architecture

The node state (package lib/node) is shared by two components. The coordinator (package coordinator) handles the
events raised by the channel engine: it funds outbound channels from the on-chain wallet, claims received payments,
settles or fails sent payments, schedules the forwarding of pending HTLCs and sweeps outputs handed back by the
engine. The server (package server) validates operator requests and translates them into engine commands.

Both record payments in the payment ledger (package lib/ledger): one table for inbound and one for outbound payments,
keyed by payment hash. A payment is pending until it succeeds or fails and never changes afterwards. Every change is
saved to the database (package lib/store) and, when a message broker is configured (package lib/msg), published to
it.

The channel engine (package lib/engine) is an interface so new engines can be developed and added. An lnd binding is
provided (package lib/engine/lnd) together with an in-memory network of engines for tests (package
lib/engine/enginetest). The on-chain wallet (package lib/chain) is reached through bitcoind RPC, and the node keys
used for message signing and output sweeps are derived from the configured seed (package lib/keys).

When a message broker is configured, engine events are published to it and consumed back by the coordinator, each
event being acknowledged once handled. Otherwise events are handed to the coordinator directly.

The service can be monitored via a Prometheus API by setting the flag "-m" at startup.

API

Every command is served on its own path, ie. POST /openchannel, and takes a JSON request. Replies are a JSON envelope
holding either a body or an error. Malformed requests are answered with status 400, commands refused by the channel
engine with 417, and broken node invariants with 500. Run `cli help` for the list of commands.

*/
package lnnode
