package limits

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed NetPackage header: magic(2) + length(2) + seq(4).
	HeaderSize = 8

	// MaxPackageSize is the largest NetPackage the 16-bit length field can
	// describe, header included.
	MaxPackageSize = 0xFFFF

	// MaxPayloadSize is the largest payload that fits in one NetPackage.
	MaxPayloadSize = MaxPackageSize - HeaderSize

	// DefaultSendBufferCapacity is the send buffer size of a new connection.
	DefaultSendBufferCapacity = 256 * 1024

	// DefaultRecvBufferCapacity is the receive buffer size of a new connection.
	// It must hold at least one maximum-size package.
	DefaultRecvBufferCapacity = 128 * 1024

	// MinRecvBufferCapacity is the smallest receive buffer that can always
	// reassemble a maximum-size package.
	MinRecvBufferCapacity = MaxPackageSize

	// MinSendBufferCapacity is the smallest accepted send buffer.
	MinSendBufferCapacity = HeaderSize
)

var (
	// ErrPayloadTooLarge indicates a payload exceeds MaxPayloadSize
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrCapacityTooSmall indicates a buffer capacity below its minimum
	ErrCapacityTooSmall = errors.New("buffer capacity too small")
)

// ValidatePayload checks that a payload fits in a single NetPackage.
// Empty payloads are valid.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}

// ValidateSendBufferCapacity checks a requested send buffer capacity.
func ValidateSendBufferCapacity(capacity int) error {
	if capacity < MinSendBufferCapacity {
		return fmt.Errorf("%w: send capacity %d below minimum %d", ErrCapacityTooSmall, capacity, MinSendBufferCapacity)
	}
	return nil
}

// ValidateRecvBufferCapacity checks a requested receive buffer capacity.
func ValidateRecvBufferCapacity(capacity int) error {
	if capacity < MinRecvBufferCapacity {
		return fmt.Errorf("%w: receive capacity %d below minimum %d", ErrCapacityTooSmall, capacity, MinRecvBufferCapacity)
	}
	return nil
}
