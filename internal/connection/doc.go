// Package connection implements the realtime connection state machine.
//
// The Machine:
//   - Builds the authenticated WebSocket URL from the configured base address
//   - Opens one transport handle at a time and owns it exclusively
//   - Decodes inbound frames and fans them out through a broadcast sequence
//   - Reconnects after unexpected loss with exponential backoff, up to a
//     bounded number of attempts
//   - Never reconnects after an explicit Disconnect
package connection
