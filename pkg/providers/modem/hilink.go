package modem

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aeroward/skylink/pkg/types"
)

// HiLink controls a Huawei-style HiLink modem through its CGI status
// API, grounded on app/services/hilink_service.py (which wraps
// huawei-lte-api against the same endpoints). Unlike ModemManager this
// needs no system bus: the modem presents an HTTP management plane on
// its own gateway IP.
type HiLink struct {
	BaseURL string // e.g. "http://192.168.8.1"
	Client  *http.Client
}

func NewHiLink(baseURL string) *HiLink {
	return &HiLink{BaseURL: baseURL, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (HiLink) ID() string          { return "hilink" }
func (HiLink) DisplayName() string { return "HiLink modem" }

type hilinkStatusResponse struct {
	XMLName          xml.Name `xml:"response"`
	ConnectionStatus string   `xml:"ConnectionStatus"`
	SignalStrength   string   `xml:"SignalIcon"`
	CurrentNetworkType string `xml:"CurrentNetworkTypeEx"`
}

func (h *HiLink) fetchStatus(ctx context.Context) (*hilinkStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/api/monitoring/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var status hilinkStatusResponse
	if err := xml.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("hilink: decode status: %w", err)
	}
	return &status, nil
}

func (h *HiLink) IsAvailable(ctx context.Context) bool {
	_, err := h.fetchStatus(ctx)
	return err == nil
}

func (HiLink) Capability() types.ModemCapability {
	return types.ModemCapability{
		ID:                    "hilink",
		DisplayName:           "HiLink modem",
		Priority:              80,
		SupportsBandSelection: false,
		SupportsAPNConfig:     true,
		SupportsRemoteReboot:  true,
		SupportsDNSConfig:     false,
	}
}

// hilinkConnectionStatusConnected is ConnectionStatus=="901" per the
// Huawei API, the same constant huawei-lte-api's StatusEnum uses.
const hilinkConnectionStatusConnected = "901"

func (h *HiLink) Records(ctx context.Context) ([]types.ModemRecord, error) {
	status, err := h.fetchStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("hilink: records: %w", err)
	}
	connected := status.ConnectionStatus == hilinkConnectionStatusConnected
	return []types.ModemRecord{{
		InterfaceName: "hilink0",
		IsConnected:   connected,
		IsActive:      connected,
		IsHealthy:     connected,
	}}, nil
}

func (h *HiLink) ConfigureBand(ctx context.Context, bandMask int) error {
	return fmt.Errorf("hilink: this modem does not expose band selection over the CGI status API (mask=%d)", bandMask)
}

func (h *HiLink) Reboot(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/device/control", nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("hilink: reboot request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hilink: reboot returned status %d", resp.StatusCode)
	}
	return nil
}
