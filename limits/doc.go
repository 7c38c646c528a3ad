// Package limits provides centralized size constants and validation functions
// for the netcore wire format and connection buffers.
//
// # Size Hierarchy
//
//   - HeaderSize (8 bytes): magic, length and sequence number of every NetPackage.
//
//   - MaxPackageSize (65535 bytes): the largest record the 16-bit length field can
//     describe, header included. MaxPayloadSize follows from it.
//
//   - DefaultSendBufferCapacity / DefaultRecvBufferCapacity: per-connection
//     buffers that absorb partial writes and partial reads.
//
// A receive buffer smaller than MinRecvBufferCapacity could stall forever on a
// valid maximum-size package, so the connection layer refuses such capacities:
//
//	if err := limits.ValidateRecvBufferCapacity(n); err != nil {
//	    return err // wraps ErrCapacityTooSmall
//	}
package limits
