package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/akavel/rumbac"
	"github.com/marcinbor85/gohex"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

func processList() {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.Fatalf("failed to enumerate serial ports: %v", err)
	}
	fmt.Printf("Found %v serial ports.\n", len(ports))
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%v\tUSB %v:%v %v\n", p.Name, p.VID, p.PID, p.SerialNumber)
		} else {
			fmt.Println(p.Name)
		}
	}
}

func processInfo(session *rumbac.Session, args []string) {
	fmt.Printf("version:  %v\n", session.Chip.Version)
	fmt.Printf("chip:     %v\n", session.Chip.Name)
	fmt.Printf("features: %+v\n", session.Chip.Feats)
	fmt.Printf("flash:    %+v\n", session.Chip.Flash)
}

func processRead(session *rumbac.Session, args []string) {
	if len(args) != 1 {
		log.Fatalf("expected: outfile")
	}
	f, err := os.Create(args[0])
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	log.Infof("reading %v bytes of flash...", session.Chip.Flash.Capacity())
	if _, err := io.Copy(f, rumbac.NewFlashReader(session)); err != nil {
		log.Fatalf("failed to read flash: %v", err)
	}
	log.Infof("flash saved to %v", args[0])
}

func processErase(session *rumbac.Session, args []string) {
	if err := session.Erase(); err != nil {
		log.Fatalf("failed to erase chip: %v", err)
	}
	log.Infof("chip erased")
}

func getAddrAndLen(args []string) (uint32, uint32) {
	if len(args) != 2 {
		log.Fatalf("expected: addr len")
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		log.Fatalf("invalid address: %v", err)
	}
	length, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		log.Fatalf("invalid length: %v", err)
	}
	return uint32(addr), uint32(length)
}

func processChecksum(session *rumbac.Session, args []string) {
	addr, length := getAddrAndLen(args)
	checksum, err := session.Checksum(addr, length)
	if err != nil {
		log.Fatalf("failed to calculate checksum: %v", err)
	}
	fmt.Printf("checksum: %04X\n", checksum)
}

func processBoot(session *rumbac.Session, args []string) {
	if err := session.Boot(); err != nil {
		log.Fatalf("failed to boot: %v", err)
	}
	log.Infof("booting")
}

// loadImage reads a flash image from a raw .bin file or an Intel HEX file.
// HEX segments are flattened relative to the lowest segment address, with
// gaps filled with the flash erase value.
func loadImage(fileName string) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(fileName), ".hex") {
		return os.ReadFile(fileName)
	}

	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, fmt.Errorf("failed to parse hex file: %v", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("hex file contains no data")
	}
	base := segments[0].Address
	end := base
	for _, s := range segments {
		if s.Address < base {
			base = s.Address
		}
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}

	image := make([]byte, end-base)
	for i := range image {
		image[i] = 0xFF
	}
	for _, s := range segments {
		copy(image[s.Address-base:], s.Data)
		log.Debugf("loaded segment at %X length %v", s.Address, len(s.Data))
	}
	return image, nil
}
