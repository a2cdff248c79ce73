package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// TransportHandlers are the transport-level callbacks wired to signaling.
type TransportHandlers struct {
	OnConnect     func(ctx context.Context, dtls domain.DtlsParameters) error
	OnProduce     func(ctx context.Context, kind domain.Kind, params domain.RtpParameters, appData map[string]any) (string, error)
	OnStateChange func(state ConnectionState)
}

type TransportConfig struct {
	Options    domain.TransportOptions
	IceServers []domain.IceServer
	Handlers   TransportHandlers
}

// Device loads the server capability set and creates transports against it.
type Device interface {
	Load(caps domain.RtpCapabilities) error
	Loaded() bool
	RtpCapabilities() domain.RtpCapabilities
	CanProduce(kind domain.Kind) bool
	CreateSendTransport(cfg TransportConfig) (Transport, error)
	CreateRecvTransport(cfg TransportConfig) (Transport, error)
}

type ProduceOptions struct {
	Track        Track
	Encodings    []domain.RtpEncodingParameters
	CodecOptions map[string]any
	AppData      map[string]any
}

type ConsumeOptions struct {
	ID            string
	ProducerID    string
	Kind          domain.Kind
	RtpParameters domain.RtpParameters
	AppData       map[string]any
}

type Transport interface {
	ID() string
	Direction() Direction
	ConnectionState() ConnectionState
	Produce(ctx context.Context, opts ProduceOptions) (LocalProducer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (RemoteConsumer, error)
	RestartIce(ctx context.Context, params domain.IceParameters) error
	Close()
	Closed() bool
}

type LocalProducer interface {
	ID() string
	Kind() domain.Kind
	Track() Track
	RtpParameters() domain.RtpParameters
	Paused() bool
	Pause()
	Resume()
	ReplaceTrack(ctx context.Context, t Track) error
	Close()
}

type RemoteConsumer interface {
	ID() string
	ProducerID() string
	Kind() domain.Kind
	RtpParameters() domain.RtpParameters
	Paused() bool
	Pause()
	Resume()
	// OnAudioLevel registers a receiver of per-packet levels in dBov (0 loudest, 127 silent).
	OnAudioLevel(fn func(level int))
	Close()
}

type TrackSettings struct {
	DeviceID         string
	Width            int
	Height           int
	FrameRate        int
	SampleRate       int
	ChannelCount     int
	SampleSize       int
	AutoGainControl  bool
	EchoCancellation bool
	NoiseSuppression bool
}

// Track is a local capture track.
type Track interface {
	ID() string
	Kind() domain.Kind
	Settings() TrackSettings
	OnEnded(fn func())
	Stop()
}

// ConstraintApplier is implemented by tracks whose engine can renegotiate
// constraints on a live capture.
type ConstraintApplier interface {
	ApplyConstraints(ctx context.Context, s TrackSettings) error
}

// LevelReporter is implemented by audio tracks that can meter their input.
// fn receives dBFS readings until the returned stop function is called.
type LevelReporter interface {
	Levels(fn func(db float64)) (stop func())
}

type AudioConstraints struct {
	DeviceID         string
	SampleRate       int
	ChannelCount     int
	SampleSize       int
	AutoGainControl  bool
	EchoCancellation bool
	NoiseSuppression bool
}

type VideoConstraints struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate int
}

// MediaDevices acquires local capture tracks.
type MediaDevices interface {
	EnumerateDevices() []domain.DeviceInfo
	GetAudioTrack(ctx context.Context, c AudioConstraints) (Track, error)
	GetVideoTrack(ctx context.Context, c VideoConstraints) (Track, error)
}

type ScreenConstraints struct {
	Width     int
	Height    int
	FrameRate int
	Audio     bool
}

// ScreenCapturer is one platform variant of screen capture, selected once at startup.
type ScreenCapturer interface {
	Name() string
	Available() bool
	SupportsAudio() bool
	// Capture returns the video track and, when requested and supported, an audio track.
	Capture(ctx context.Context, c ScreenConstraints) (video Track, audio Track, err error)
}
