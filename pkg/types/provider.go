package types

// ProviderFamily groups providers that implement the same duck-typed
// interface kind (§3 Provider descriptor).
type ProviderFamily string

const (
	FamilyVideoSource  ProviderFamily = "video_source"
	FamilyVideoEncoder ProviderFamily = "video_encoder"
	FamilyModem        ProviderFamily = "modem"
	FamilyVPN          ProviderFamily = "vpn"
	FamilyNetInterface ProviderFamily = "network_interface"
	FamilyBoard        ProviderFamily = "board"
)

// DeviceIdentity identifies a V4L2-style capture device independent of
// its /dev/videoN path, which can renumber across reboots.
type DeviceIdentity struct {
	CardName string
	Driver   string
	BusInfo  string
}

// Resolution is a supported (width, height) pair.
type Resolution struct {
	Width  int
	Height int
}

// VideoSourceCapability describes what a video source provider can do.
type VideoSourceCapability struct {
	ID                 string
	DisplayName        string
	Priority           int
	SupportedResolutions []Resolution
	// FrameratesByResolution maps "WxH" -> supported framerates.
	FrameratesByResolution map[string][]int
	PixelFormats           []string
	PreCompressed          bool
	Identity               DeviceIdentity
}

// EncoderClass distinguishes hardware, software, and passthrough encoders.
type EncoderClass string

const (
	EncoderClassHardware    EncoderClass = "hardware"
	EncoderClassSoftware    EncoderClass = "software"
	EncoderClassPassthrough EncoderClass = "passthrough"
)

// LatencyClass and CPUClass are coarse estimated-cost buckets used by
// codec adaptation (§4.1) to compare encoder providers.
type LatencyClass string
type CPUClass string

const (
	LatencyClassLow    LatencyClass = "low"
	LatencyClassMedium LatencyClass = "medium"
	LatencyClassHigh   LatencyClass = "high"

	CPUClassLow    CPUClass = "low"
	CPUClassMedium CPUClass = "medium"
	CPUClassHigh   CPUClass = "high"
)

// BitrateRange is the encoder's supported bitrate envelope, in kbps.
type BitrateRange struct {
	Min     int
	Max     int
	Default int
}

// VideoEncoderCapability describes what an encoder provider can do.
type VideoEncoderCapability struct {
	ID                string
	DisplayName       string
	Priority          int
	CodecFamily       string // e.g. "h264", "h265", "mjpeg"
	Class             EncoderClass
	Bitrate           BitrateRange
	QualityControllable bool
	LiveAdjustable      bool
	Latency             LatencyClass
	CPUUsage            CPUClass
}

// ModemCapability describes optional control surfaces a modem provider
// supports.
type ModemCapability struct {
	ID                    string
	DisplayName           string
	Priority              int
	SupportsBandSelection bool
	SupportsAPNConfig     bool
	SupportsRemoteReboot  bool
	SupportsDNSConfig     bool
}
