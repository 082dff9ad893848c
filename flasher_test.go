package rumbac

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

// exchange is one request/response pair of a scripted conversation: the
// exact bytes the host must write and the bytes the device replies with.
// An empty reply leaves the host waiting, which the transport reports as a
// timeout.
type exchange struct {
	expect string
	reply  string
}

// fakeTransport replays a scripted conversation and fails the test as soon
// as the host writes something the script does not expect.
type fakeTransport struct {
	t       *testing.T
	script  []exchange
	step    int
	buf     []byte
	pending []byte
	written bytes.Buffer
}

func newFakeTransport(t *testing.T, script []exchange) *fakeTransport {
	return &fakeTransport{t: t, script: script}
}

func (ft *fakeTransport) Write(p []byte) (int, error) {
	ft.written.Write(p)
	ft.buf = append(ft.buf, p...)
	for ft.step < len(ft.script) {
		ex := ft.script[ft.step]
		if len(ft.buf) < len(ex.expect) {
			if !strings.HasPrefix(ex.expect, string(ft.buf)) {
				ft.t.Fatalf("step %d: host wrote %q, want prefix of %q", ft.step, ft.buf, ex.expect)
			}
			break
		}
		if string(ft.buf[:len(ex.expect)]) != ex.expect {
			ft.t.Fatalf("step %d: host wrote %q, want %q", ft.step, ft.buf[:len(ex.expect)], ex.expect)
		}
		ft.buf = ft.buf[len(ex.expect):]
		ft.pending = append(ft.pending, ex.reply...)
		ft.step++
	}
	return len(p), nil
}

func (ft *fakeTransport) Read(p []byte) (int, error) {
	if len(ft.pending) == 0 {
		// Nothing scripted: the device stays silent, the host times out.
		return 0, io.EOF
	}
	n := copy(p, ft.pending)
	ft.pending = ft.pending[n:]
	return n, nil
}

func (ft *fakeTransport) allStepsDone() bool {
	return ft.step == len(ft.script)
}

// handshakeScript returns the opening exchanges for a bootloader
// advertising the given feature letters and chip name.
func handshakeScript(feats, chip string) []exchange {
	return []exchange{
		{"V#", fmt.Sprintf("v1.1 [Arduino:%s]\n\r", feats)},
		{"I#", chip + "\n\r"},
		{"N#", "\n\r"},
	}
}

func checksumReply(data []byte) string {
	return fmt.Sprintf("Z%08X#\n\r", uint32(crc16(data)))
}

func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i * 7)
	}
	return img
}

func TestFlashSinglePage(t *testing.T) {
	image := testImage(4096)
	script := append(handshakeScript("IKXYZ", "nRF52840-QIAA"),
		exchange{"S00000000,00001000#" + string(image), ""},
		exchange{"Y00000000,0#", "Y\n\r"},
		exchange{"Y00000000,00001000#", "Y\n\r"},
		exchange{"Z00000000,00001000#", checksumReply(image)},
		exchange{"K#", ""},
	)
	ft := newFakeTransport(t, script)

	var events []Event
	prog := NewProgrammer(ft, Options{Progress: func(ev Event) { events = append(events, ev) }})
	chip, err := prog.Run(image)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if chip.Name != "nRF52840-QIAA" {
		t.Errorf("unexpected chip name %q", chip.Name)
	}
	if !ft.allStepsDone() {
		t.Errorf("conversation stopped at step %d of %d", ft.step, len(ft.script))
	}

	var wrote, booted bool
	for _, ev := range events {
		switch ev.Stage {
		case StageWrite:
			wrote = true
			if ev.Chunk != 1 || ev.Chunks != 1 || ev.Addr != 0 {
				t.Errorf("unexpected write event %+v", ev)
			}
		case StageBoot:
			booted = true
		}
	}
	if !wrote || !booted {
		t.Errorf("missing progress events, got %+v", events)
	}
}

func TestFlashSplitsAtPageBoundary(t *testing.T) {
	image := testImage(6000)
	first, second := image[:4096], image[4096:]
	script := append(handshakeScript("IKXYZ", "nRF52840-QIAA"),
		exchange{"S00000000,00001000#" + string(first), ""},
		exchange{"Y00000000,0#", "Y\n\r"},
		exchange{"Y00000000,00001000#", "Y\n\r"},
		exchange{"Z00000000,00001000#", checksumReply(first)},
		exchange{"S00001000,00000770#" + string(second), ""},
		exchange{"Y00001000,0#", "Y\n\r"},
		exchange{"Y00001000,00000770#", "Y\n\r"},
		exchange{"Z00001000,00000770#", checksumReply(second)},
		exchange{"K#", ""},
	)
	ft := newFakeTransport(t, script)

	if _, err := NewProgrammer(ft, Options{}).Run(image); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ft.allStepsDone() {
		t.Errorf("conversation stopped at step %d of %d", ft.step, len(ft.script))
	}
}

func TestFlashWithErase(t *testing.T) {
	image := testImage(4096)
	script := append(handshakeScript("IKXYZ", "nRF52840-QIAA"),
		exchange{"X00000000#", "X\n\r"},
		exchange{"S00000000,00001000#" + string(image), ""},
		exchange{"Y00000000,0#", "Y\n\r"},
		exchange{"Y00000000,00001000#", "Y\n\r"},
		exchange{"Z00000000,00001000#", checksumReply(image)},
		exchange{"K#", ""},
	)
	ft := newFakeTransport(t, script)

	if _, err := NewProgrammer(ft, Options{Erase: true}).Run(image); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ft.allStepsDone() {
		t.Errorf("conversation stopped at step %d of %d", ft.step, len(ft.script))
	}
}

func TestVerificationFailureAborts(t *testing.T) {
	RegisterChip(ChipDef{
		Name:  "TESTCHIP-4x16",
		Flash: FlashGeometry{Addr: 0, Pages: 4, Size: 16, Planes: 1},
	})
	image := testImage(48) // 3 chunks of 16
	chunk1, chunk2 := image[:16], image[16:32]

	script := append(handshakeScript("IKXYZ", "TESTCHIP-4x16"),
		exchange{"S00000000,00000010#" + string(chunk1), ""},
		exchange{"Y00000000,0#", "Y\n\r"},
		exchange{"Y00000000,00000010#", "Y\n\r"},
		exchange{"Z00000000,00000010#", checksumReply(chunk1)},
		exchange{"S00000010,00000010#" + string(chunk2), ""},
		exchange{"Y00000010,0#", "Y\n\r"},
		exchange{"Y00000010,00000010#", "Y\n\r"},
		// Device reports a checksum that does not match the sent bytes.
		exchange{"Z00000010,00000010#", "ZDEADBEEF#\n\r"},
	)
	ft := newFakeTransport(t, script)

	_, err := NewProgrammer(ft, Options{}).Run(image)
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("want VerificationError, got %v", err)
	}
	if verr.Addr != 0x10 {
		t.Errorf("verification error at %08X, want 00000010", verr.Addr)
	}
	if verr.Expected != crc16(chunk2) || verr.Actual != 0xBEEF {
		t.Errorf("unexpected checksums in %+v", verr)
	}
	if bytes.Contains(ft.written.Bytes(), []byte("K#")) {
		t.Errorf("boot command sent despite verification failure")
	}
	// Chunk 3 must not have been attempted either.
	if bytes.Contains(ft.written.Bytes(), []byte("S00000020")) {
		t.Errorf("transfer continued past the failed chunk")
	}
}

func TestEmptyImageRejected(t *testing.T) {
	ft := newFakeTransport(t, handshakeScript("IKXYZ", "nRF52840-QIAA"))
	_, err := NewProgrammer(ft, Options{}).Run(nil)
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("want ErrEmptyImage, got %v", err)
	}
	if got := ft.written.String(); got != "V#I#N#" {
		t.Errorf("commands sent beyond handshake: %q", got)
	}
}

func TestImageTooLargeRejected(t *testing.T) {
	ft := newFakeTransport(t, handshakeScript("IKXYZ", "TESTCHIP-4x16"))
	RegisterChip(ChipDef{
		Name:  "TESTCHIP-4x16",
		Flash: FlashGeometry{Addr: 0, Pages: 4, Size: 16, Planes: 1},
	})
	_, err := NewProgrammer(ft, Options{}).Run(testImage(65))
	var terr *ImageTooLargeError
	if !errors.As(err, &terr) {
		t.Fatalf("want ImageTooLargeError, got %v", err)
	}
	if terr.Size != 65 || terr.Capacity != 64 {
		t.Errorf("unexpected sizes in %+v", terr)
	}
	if got := ft.written.String(); got != "V#I#N#" {
		t.Errorf("commands sent beyond handshake: %q", got)
	}
}

func TestWordWriteFallback(t *testing.T) {
	RegisterChip(ChipDef{
		Name:  "TESTCHIP-4x16",
		Flash: FlashGeometry{Addr: 0, Pages: 4, Size: 16, Planes: 1},
	})
	image := []byte{0x11, 0x22, 0x33, 0x44, 0x55} // one word plus one byte
	// No Y feature: per-word writes, tail padded with the erase value.
	script := append(handshakeScript("IKXZ", "TESTCHIP-4x16"),
		exchange{"W00000000,44332211#", ""},
		exchange{"W00000004,FFFFFF55#", ""},
		exchange{"Z00000000,00000005#", checksumReply(image)},
		exchange{"K#", ""},
	)
	ft := newFakeTransport(t, script)

	if _, err := NewProgrammer(ft, Options{}).Run(image); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ft.allStepsDone() {
		t.Errorf("conversation stopped at step %d of %d", ft.step, len(ft.script))
	}
}

func TestReadbackVerifyFallback(t *testing.T) {
	RegisterChip(ChipDef{
		Name:  "TESTCHIP-4x16",
		Flash: FlashGeometry{Addr: 0, Pages: 4, Size: 16, Planes: 1},
	})
	image := testImage(16)
	// No Z feature: verification reads the chunk back.
	script := append(handshakeScript("IKXY", "TESTCHIP-4x16"),
		exchange{"S00000000,00000010#" + string(image), ""},
		exchange{"Y00000000,0#", "Y\n\r"},
		exchange{"Y00000000,00000010#", "Y\n\r"},
		exchange{"R00000000,00000010#", string(image)},
		exchange{"K#", ""},
	)
	ft := newFakeTransport(t, script)

	if _, err := NewProgrammer(ft, Options{}).Run(image); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ft.allStepsDone() {
		t.Errorf("conversation stopped at step %d of %d", ft.step, len(ft.script))
	}
}

func TestReadbackVerifyMismatch(t *testing.T) {
	RegisterChip(ChipDef{
		Name:  "TESTCHIP-4x16",
		Flash: FlashGeometry{Addr: 0, Pages: 4, Size: 16, Planes: 1},
	})
	image := testImage(16)
	corrupted := append([]byte(nil), image...)
	corrupted[3] ^= 0xFF

	script := append(handshakeScript("IKXY", "TESTCHIP-4x16"),
		exchange{"S00000000,00000010#" + string(image), ""},
		exchange{"Y00000000,0#", "Y\n\r"},
		exchange{"Y00000000,00000010#", "Y\n\r"},
		exchange{"R00000000,00000010#", string(corrupted)},
	)
	ft := newFakeTransport(t, script)

	_, err := NewProgrammer(ft, Options{}).Run(image)
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("want VerificationError, got %v", err)
	}
	if bytes.Contains(ft.written.Bytes(), []byte("K#")) {
		t.Errorf("boot command sent despite verification failure")
	}
}
