package rumbac

import (
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the baud rate the Arduino SAM-BA bootloaders run at.
const DefaultBaud = 230400

// SerialTransport is a Transport over a local serial port. Reads block for
// at most the configured timeout.
type SerialTransport struct {
	port *serial.Port
}

// OpenSerial opens the named serial port as a bootloader transport with a
// one second read timeout.
func OpenSerial(name string, baud int) (*SerialTransport, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	// On Linux with USB serial ports, in order for flush to work properly
	// we need to delay a little before flushing to make sure that any
	// received data has made its way up the driver stack.
	// See https://stackoverflow.com/questions/13013387/clearing-the-serial-ports-buffer
	time.Sleep(time.Millisecond * 100)
	port.Flush()
	return &SerialTransport{port: port}, nil
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

// Close releases the underlying port.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}
