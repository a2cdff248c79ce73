package transport

import (
	"time"

	"github.com/dkeye/Meet/internal/core"
)

type TransportsReady struct {
	CanSendMic     bool `json:"canSendMic"`
	CanSendWebcam  bool `json:"canSendWebcam"`
	CanShareScreen bool `json:"canShareScreen"`
}

func (TransportsReady) EventName() string { return "transportsReady" }

type TransportStateChanged struct {
	Direction core.Direction       `json:"direction"`
	State     core.ConnectionState `json:"state"`
}

func (TransportStateChanged) EventName() string { return "transportState" }

type IceRestarted struct {
	Direction core.Direction `json:"direction"`
}

func (IceRestarted) EventName() string { return "iceRestarted" }

type IceRestartFailed struct {
	Direction core.Direction `json:"direction"`
	NextDelay time.Duration  `json:"nextDelay"`
	Err       error          `json:"-"`
}

func (IceRestartFailed) EventName() string { return "iceRestartFailed" }
