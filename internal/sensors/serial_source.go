// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/gesture_computer/internal/imu"
)

// LineSource reads samples in the imu.ParseLine format from a byte stream.
type LineSource struct {
	device string
	rc     io.ReadCloser
	reader *bufio.Reader
}

// NewSerialSource opens a serial port streaming sample lines.
func NewSerialSource(device, port string, baud int) (*LineSource, error) {
	serialOpts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	rc, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("%s serial: open %s: %w", device, port, err)
	}
	return NewLineSource(device, rc), nil
}

// NewLineSource wraps rc, for example a replayed log file.
func NewLineSource(device string, rc io.ReadCloser) *LineSource {
	return &LineSource{device: device, rc: rc, reader: bufio.NewReader(rc)}
}

// Next returns the next sample. Blank lines and "#" comments are skipped;
// a malformed line yields an error wrapping imu.ErrMalformedLine and the
// source stays usable. io.EOF is returned unwrapped at end of stream.
func (s *LineSource) Next() (imu.Sample, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return imu.Sample{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return imu.ParseLine(s.device, line)
	}
}

// Close closes the underlying port.
func (s *LineSource) Close() error {
	return s.rc.Close()
}
