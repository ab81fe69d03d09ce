package crc8

import (
	"pgregory.net/rapid"
	"testing"
)

func TestChecksumDeterministic(t *testing.T) {
	data := []byte{0x55, 0x01, 0x52, 0x08, 0x01, 0x01, 0x41}
	a := Checksum(Seed, data)
	b := Checksum(Seed, data)
	if a != b {
		t.Fatalf("checksum not deterministic: %x vs %x", a, b)
	}
}

func TestChecksumBitFlipChangesResult(t *testing.T) {
	base := []byte{0x55, 0x01, 0x52, 0x08, 0x01, 0x01, 0x41}
	want := Checksum(Seed, base)
	for byteIdx := range base {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), base...)
			flipped[byteIdx] ^= 1 << uint(bit)
			if got := Checksum(Seed, flipped); got == want {
				t.Fatalf("bit flip at byte %d bit %d did not change CRC", byteIdx, bit)
			}
		}
	}
}

func TestChecksumPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		header := rapid.SliceOfN(rapid.Byte(), 6, 6).Draw(rt, "header")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 255).Draw(rt, "payload")
		frame := append(append([]byte{}, header...), payload...)
		crc := FrameChecksum(header, payload)
		full := append(append([]byte{}, frame...), crc)
		if Checksum(Seed, full[:len(full)-1]) != full[len(full)-1] {
			t.Fatalf("checksum mismatch for generated frame")
		}
	})
}
