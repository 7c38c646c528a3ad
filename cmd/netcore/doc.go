// Package main provides the netcore command-line tool.
//
// It runs an echo server, an echo client, or both in one process, and is
// the quickest way to exercise the framing, backpressure and timer code
// against real loopback sockets:
//
//	netcore -mode server -port 5327
//	netcore -mode client -port 5327 -count 100 -interval 10ms
//	netcore -mode demo -count 1000 -payload-size 4096
package main
