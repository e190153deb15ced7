package protocol

import "encoding/binary"

// CRC16 calculates the CRC16-CCITT (Klipper variant) checksum of data
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// ChecksumWords computes the CRC16 of a slot request: the sequence number
// followed by the payload words, all little-endian.
func ChecksumWords(seq uint32, payload [PayloadWords]uint32) uint16 {
	var buf [(PayloadWords + 1) * WordSize]byte
	binary.LittleEndian.PutUint32(buf[0:], seq)
	for i, w := range payload {
		binary.LittleEndian.PutUint32(buf[(i+1)*WordSize:], w)
	}
	return CRC16(buf[:])
}
