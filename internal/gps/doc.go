// Package gps reads raw receiver streams and splits them into messages.
//
// A Service owns one stream: its source (serial port, TCP socket, gpsd raw
// passthrough or a recorded capture), one parser and one statistics ledger.
// Sources other than replay reconnect with exponential backoff; failures are
// recorded in the snapshot and never stop the process.
package gps
