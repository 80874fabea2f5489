package channel

import (
	"errors"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/spaceworks/sw2/pkg/sim"
)

var standardBaudrates = []int{
	9600, 19200, 38400, 57600, 115200, 230400, 250000, 460800, 921600,
}

// Open opens the port described by conf.
// Failures are reported as *OpenError.
func Open(conf Config) (*Channel, error) {
	if conf.IsSim() {
		dev, err := sim.NewDevice(conf.SimMode)
		if err != nil {
			return nil, &OpenError{Port: conf.Port, Baud: conf.Baud, Err: err}
		}
		glog.Infof("opened simulated device (mode %s)", dev.Mode())
		return New(conf.Name(), dev), nil
	}
	if conf.Port == "" {
		return nil, &OpenError{Port: conf.Port, Baud: conf.Baud, Err: errors.New("port not specified")}
	}
	if conf.Baud <= 0 {
		return nil, &OpenError{Port: conf.Port, Baud: conf.Baud, Err: errors.New("invalid baud rate")}
	}
	port, err := serial.Open(conf.Port, &serial.Mode{
		BaudRate: conf.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &OpenError{Port: conf.Port, Baud: conf.Baud, Err: err}
	}
	glog.Infof("opened %s at %d baud", conf.Port, conf.Baud)
	return New(conf.Name(), port), nil
}

// ListPorts lists the serial ports on the system followed by SimPort.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return append(ports, SimPort), nil
}

// Baudrates lists the standard baud rates offered for selection.
func Baudrates() []int {
	return append([]int(nil), standardBaudrates...)
}
