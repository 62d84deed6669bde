package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"

	serial "github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens the receiver's serial port as 8N1.
func OpenSerial(portName string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", portName, err)
	}
	return port, nil
}

// ReadFixes reads NMEA lines from r and calls fn for every completed fix.
// It returns when r fails or ctx is cancelled; cancellation is only seen
// between lines, so callers close r to interrupt a blocked read.
func ReadFixes(ctx context.Context, r io.Reader, fn func(Fix)) error {
	reader := bufio.NewReader(r)
	var p Parser
	var parseErrs int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fix, ok, perr := p.Feed(line)
			if perr != nil {
				// noisy receivers emit partial sentences; log only the first
				if parseErrs == 0 {
					log.Printf("gps: NMEA parse error: %v (line: %q)", perr, line)
				}
				parseErrs++
			} else if ok {
				fn(fix)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("gps: read: %w", err)
		}
	}
}
