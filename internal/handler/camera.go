package handler

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"

	"evdetect/internal/config"
	"evdetect/internal/logger"
)

// maxFrameSize bounds a reassembled UDP frame; larger ones are discarded.
const maxFrameSize = 4 << 20

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// FrameSink accepts complete JPEG frames from any ingest path.
type FrameSink interface {
	HandleCameraImage(frame []byte, camera string)
}

// frameAssembler rebuilds JPEG frames from datagrams, one buffer per camera.
// A datagram starting with SOI begins a frame; one ending with EOI completes it.
type frameAssembler struct {
	buffers map[string]*bytes.Buffer
}

func newFrameAssembler() *frameAssembler {
	return &frameAssembler{buffers: make(map[string]*bytes.Buffer)}
}

// Push adds a datagram and returns the completed frame, if any.
func (a *frameAssembler) Push(camera string, data []byte) []byte {
	buf, ok := a.buffers[camera]
	if !ok {
		buf = new(bytes.Buffer)
		a.buffers[camera] = buf
	}

	if bytes.HasPrefix(data, jpegHeader) {
		buf.Reset()
	} else if buf.Len() == 0 {
		// middle of a frame we never saw the start of
		return nil
	}
	buf.Write(data)

	if buf.Len() > maxFrameSize {
		buf.Reset()
		return nil
	}

	if !bytes.HasSuffix(data, jpegFooter) {
		return nil
	}
	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	buf.Reset()
	return frame
}

// UDPCameraHandler listens for UDP packets from cameras, reconstructs JPEG
// frames and forwards complete ones to the sink until ctx is cancelled.
func UDPCameraHandler(ctx context.Context, sink FrameSink, logger *logger.Logger, cfg *config.Config) error {
	port := strconv.Itoa(cfg.CamerasPort)

	addr, err := net.ResolveUDPAddr("udp", ":"+port)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.Info("UDP Camera handler started on port %s", port)

	buffer := make([]byte, 65535)
	assembler := newFrameAssembler()

	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("UDP Camera handler stopped")
				return nil
			}
			logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		ip := remoteAddr.IP.String()
		cameraName, exists := cfg.CameraNames[ip]
		if !exists {
			cameraName = "unknown_" + ip
		}

		if frame := assembler.Push(cameraName, buffer[:n]); frame != nil {
			sink.HandleCameraImage(frame, cameraName)
		}
	}
}
