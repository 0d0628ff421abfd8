package connection

import (
	"github.com/quicproto/qtransport/packet"
	"github.com/quicproto/qtransport/qcrypto"
)

// splitOrWhole divides a datagram into its coalesced packets, or returns it
// as a single "packet" if it isn't long-header-coalesced (short-header
// packets always occupy a whole datagram by themselves on this path too,
// so SplitCoalesced handles both uniformly).
func splitOrWhole(b []byte) ([][]byte, error) {
	return packet.SplitCoalesced(b)
}

func parseLongHeader(b []byte, largestAcked int64, keys qcrypto.DirectionalKeys) (packet.LongHeader, int64, []byte, int, error) {
	return packet.ParseLongHeaderPacket(b, largestAcked, keys)
}

func parseShortHeader(b []byte, cidLen int, largestAcked int64, keys qcrypto.DirectionalKeys) (packet.ShortHeader, int64, []byte, error) {
	return packet.ParseShortHeaderPacket(b, cidLen, largestAcked, keys)
}
