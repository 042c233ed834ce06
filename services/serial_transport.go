package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// WearableDevice is a candidate port offered to the user.
type WearableDevice struct {
	Port    string
	Product string
	Serial  string
}

// DevicePrompt asks the user to pick one of the matching devices. It returns
// ErrPromptCancelled if the user dismisses the prompt.
type DevicePrompt interface {
	Choose(ctx context.Context, devices []WearableDevice) (WearableDevice, error)
}

// PortLister enumerates serial ports. Swapped out in tests.
type PortLister func() ([]*enumerator.PortDetails, error)

// PortOpener opens a port by name. Swapped out in tests.
type PortOpener func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerialPort(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(name, mode)
}

// SerialTransport reads wearable notifications from a USB serial relay.
// On the wire each notification is prefixed with a single length byte.
// Dialing needs the user to choose a device, so retries are manual.
type SerialTransport struct {
	deviceFilter string
	mode         *serial.Mode
	prompt       DevicePrompt
	listPorts    PortLister
	openPort     PortOpener
	logger       *zap.Logger
}

// NewSerialTransport creates a transport matching ports whose USB product
// name contains deviceFilter.
func NewSerialTransport(deviceFilter string, baudRate int, prompt DevicePrompt, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		deviceFilter: deviceFilter,
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		prompt:    prompt,
		listPorts: enumerator.GetDetailedPortsList,
		openPort:  openSerialPort,
		logger:    logger,
	}
}

// WithPorts replaces port enumeration and opening, mainly for tests.
func (t *SerialTransport) WithPorts(list PortLister, open PortOpener) *SerialTransport {
	t.listPorts = list
	t.openPort = open
	return t
}

func (t *SerialTransport) Name() string    { return "wearable" }
func (t *SerialTransport) AutoRetry() bool { return false }

func (t *SerialTransport) Dial(ctx context.Context) (Subscription, error) {
	if t.prompt == nil {
		return nil, connectionError(PlatformUnsupported, t.Name(), errors.New("no device prompt available"))
	}

	ports, err := t.listPorts()
	if err != nil {
		return nil, connectionError(PlatformUnsupported, t.Name(), fmt.Errorf("failed to enumerate serial ports: %w", err))
	}

	candidates := t.matchDevices(ports)
	if len(candidates) == 0 {
		return nil, connectionError(Fatal, t.Name(), fmt.Errorf("no device matching %q found", t.deviceFilter))
	}

	device, err := t.prompt.Choose(ctx, candidates)
	if err != nil {
		if errors.Is(err, ErrPromptCancelled) {
			return nil, connectionError(UserCancelled, t.Name(), err)
		}
		return nil, connectionError(Fatal, t.Name(), err)
	}

	port, err := t.openPort(device.Port, t.mode)
	if err != nil {
		return nil, connectionError(Transient, t.Name(), fmt.Errorf("failed to open %s: %w", device.Port, err))
	}

	t.logger.Info("Wearable device connected",
		zap.String("port", device.Port),
		zap.String("product", device.Product))

	return newSerialSubscription(port, t.logger), nil
}

func (t *SerialTransport) matchDevices(ports []*enumerator.PortDetails) []WearableDevice {
	var devices []WearableDevice
	filter := strings.ToLower(t.deviceFilter)
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(p.Product), filter) {
			continue
		}
		devices = append(devices, WearableDevice{
			Port:    p.Name,
			Product: p.Product,
			Serial:  p.SerialNumber,
		})
	}
	return devices
}

// serialSubscription reads length-prefixed frames on a background goroutine
// so Next can honour ctx.
type serialSubscription struct {
	port   io.ReadWriteCloser
	logger *zap.Logger
	frames chan []byte
	done   chan struct{}

	mu        sync.Mutex
	readErr   error
	detached  bool
	closeOnce sync.Once
	closeErr  error
}

func newSerialSubscription(port io.ReadWriteCloser, logger *zap.Logger) *serialSubscription {
	s := &serialSubscription{
		port:   port,
		logger: logger,
		frames: make(chan []byte, inboundBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *serialSubscription) readLoop() {
	defer close(s.done)

	reader := bufio.NewReader(s.port)
	for {
		length, err := reader.ReadByte()
		if err != nil {
			s.setErr(err)
			return
		}
		if length == 0 {
			continue
		}

		frame := make([]byte, int(length))
		if _, err := io.ReadFull(reader, frame); err != nil {
			s.setErr(err)
			return
		}

		if s.isDetached() {
			continue
		}
		// Block rather than drop; Close drains the queue.
		s.frames <- frame
	}
}

func (s *serialSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
}

func (s *serialSubscription) isDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (s *serialSubscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.done:
		select {
		case frame := <-s.frames:
			return frame, nil
		default:
		}
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return nil, connectionError(Transient, "wearable", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe stops frames from being queued. The port stays open until
// Close.
func (s *serialSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
	return nil
}

func (s *serialSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
		// Unblock a reader stuck on a full frame queue.
		go func() {
			for {
				select {
				case <-s.frames:
				case <-s.done:
					return
				}
			}
		}()
		s.logger.Info("Wearable device disconnected")
	})
	return s.closeErr
}
