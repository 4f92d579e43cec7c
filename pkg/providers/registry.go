package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aeroward/skylink/pkg/types"
)

// Registry holds, keyed by family and identifier, provider instances
// (§4.1 "The registry holds ... provider factories"). We store
// constructed instances rather than factories proper: every concrete
// provider in this module is cheap to construct and defers its actual
// hardware probing to IsAvailable/Discover, so there is no benefit to
// lazy factory indirection and real call sites (cmd/skylinkd) read
// more plainly registering instances directly.
type Registry struct {
	mu sync.RWMutex

	videoSources   map[string]VideoSourceProvider
	videoEncoders  map[string]VideoEncoderProvider
	modems         map[string]ModemProvider
	vpns           map[string]VPNProvider
	netInterfaces  map[string]NetInterfaceProvider
	boards         map[string]BoardProvider

	encodersOnce   sync.Once
	availEncoders  []types.VideoEncoderCapability
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		videoSources:  make(map[string]VideoSourceProvider),
		videoEncoders: make(map[string]VideoEncoderProvider),
		modems:        make(map[string]ModemProvider),
		vpns:          make(map[string]VPNProvider),
		netInterfaces: make(map[string]NetInterfaceProvider),
		boards:        make(map[string]BoardProvider),
	}
}

// RegisterVideoSource fails if id is already registered in this family.
func (r *Registry) RegisterVideoSource(p VideoSourceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videoSources[p.ID()]; ok {
		return fmt.Errorf("providers: duplicate video_source id %q", p.ID())
	}
	r.videoSources[p.ID()] = p
	return nil
}

// RegisterVideoEncoder fails if id is already registered in this family.
func (r *Registry) RegisterVideoEncoder(p VideoEncoderProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videoEncoders[p.ID()]; ok {
		return fmt.Errorf("providers: duplicate video_encoder id %q", p.ID())
	}
	r.videoEncoders[p.ID()] = p
	return nil
}

// RegisterModem fails if id is already registered in this family.
func (r *Registry) RegisterModem(p ModemProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modems[p.ID()]; ok {
		return fmt.Errorf("providers: duplicate modem id %q", p.ID())
	}
	r.modems[p.ID()] = p
	return nil
}

// RegisterVPN fails if id is already registered in this family.
func (r *Registry) RegisterVPN(p VPNProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vpns[p.ID()]; ok {
		return fmt.Errorf("providers: duplicate vpn id %q", p.ID())
	}
	r.vpns[p.ID()] = p
	return nil
}

// RegisterNetInterface fails if id is already registered in this family.
func (r *Registry) RegisterNetInterface(p NetInterfaceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.netInterfaces[p.ID()]; ok {
		return fmt.Errorf("providers: duplicate network_interface id %q", p.ID())
	}
	r.netInterfaces[p.ID()] = p
	return nil
}

// RegisterBoard fails if id is already registered in this family.
func (r *Registry) RegisterBoard(p BoardProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boards[p.ID()]; ok {
		return fmt.Errorf("providers: duplicate board id %q", p.ID())
	}
	r.boards[p.ID()] = p
	return nil
}

func (r *Registry) ListVideoSources() []string  { return keysOf(r.videoSources, &r.mu) }
func (r *Registry) ListVideoEncoders() []string { return keysOf(r.videoEncoders, &r.mu) }
func (r *Registry) ListModems() []string        { return keysOf(r.modems, &r.mu) }
func (r *Registry) ListVPNs() []string          { return keysOf(r.vpns, &r.mu) }
func (r *Registry) ListNetInterfaces() []string { return keysOf(r.netInterfaces, &r.mu) }
func (r *Registry) ListBoards() []string        { return keysOf(r.boards, &r.mu) }

func keysOf[V any](m map[string]V, mu *sync.RWMutex) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetVideoSource returns NoProviderAvailableError if id is unregistered.
func (r *Registry) GetVideoSource(id string) (VideoSourceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.videoSources[id]
	if !ok {
		return nil, types.NoProviderAvailableError{Family: string(types.FamilyVideoSource), ID: id}
	}
	return p, nil
}

// GetVideoEncoder returns NoProviderAvailableError if id is unregistered.
func (r *Registry) GetVideoEncoder(id string) (VideoEncoderProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.videoEncoders[id]
	if !ok {
		return nil, types.NoProviderAvailableError{Family: string(types.FamilyVideoEncoder), ID: id}
	}
	return p, nil
}

// GetModem returns NoProviderAvailableError if id is unregistered.
func (r *Registry) GetModem(id string) (ModemProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.modems[id]
	if !ok {
		return nil, types.NoProviderAvailableError{Family: string(types.FamilyModem), ID: id}
	}
	return p, nil
}

// GetVPN returns NoProviderAvailableError if id is unregistered.
func (r *Registry) GetVPN(id string) (VPNProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.vpns[id]
	if !ok {
		return nil, types.NoProviderAvailableError{Family: string(types.FamilyVPN), ID: id}
	}
	return p, nil
}

// GetNetInterface returns NoProviderAvailableError if id is unregistered.
func (r *Registry) GetNetInterface(id string) (NetInterfaceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.netInterfaces[id]
	if !ok {
		return nil, types.NoProviderAvailableError{Family: string(types.FamilyNetInterface), ID: id}
	}
	return p, nil
}

// GetBoard returns NoProviderAvailableError if id is unregistered.
func (r *Registry) GetBoard(id string) (BoardProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.boards[id]
	if !ok {
		return nil, types.NoProviderAvailableError{Family: string(types.FamilyBoard), ID: id}
	}
	return p, nil
}

// AvailableEncoders filters out providers whose IsAvailable is false,
// running the probe exactly once per process and caching the result in
// a memoized slot. The first call runs the probe synchronously on the
// caller's goroutine; Pipeline.Build is the caller that triggers it.
func (r *Registry) AvailableEncoders(ctx context.Context) []types.VideoEncoderCapability {
	r.encodersOnce.Do(func() {
		r.mu.RLock()
		candidates := make([]VideoEncoderProvider, 0, len(r.videoEncoders))
		for _, p := range r.videoEncoders {
			candidates = append(candidates, p)
		}
		r.mu.RUnlock()

		out := make([]types.VideoEncoderCapability, 0, len(candidates))
		for _, p := range candidates {
			if p.IsAvailable(ctx) {
				out = append(out, p.Capability())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
		r.availEncoders = out
	})
	return r.availEncoders
}

// AdaptCodec implements the §4.1 ordered fallback policy: exact id
// match -> hardware variant within the same family -> software variant
// within the same family -> MJPEG fallback. declaredEncoders is the
// board's advertised encoder id set; an id not present there is treated
// as unsupported on this hardware even if a software provider for it
// happens to be registered (e.g. x264 registered but disabled by board
// policy on a thermally-constrained variant).
//
// Returns the chosen capability and, if it differs from the request, a
// human-readable fallback warning the caller must surface on
// PipelineStatus.CodecFallbackWarning.
func AdaptCodec(requested string, declaredEncoders []string, available []types.VideoEncoderCapability) (types.VideoEncoderCapability, string, error) {
	declared := make(map[string]bool, len(declaredEncoders))
	for _, id := range declaredEncoders {
		declared[id] = true
	}

	byID := make(map[string]types.VideoEncoderCapability, len(available))
	for _, c := range available {
		byID[c.ID] = c
	}

	// 1. exact id match.
	if c, ok := byID[requested]; ok && declared[requested] {
		return c, "", nil
	}

	family := codecFamilyOf(requested)

	// 2. hardware variant within the same family.
	if c, ok := bestInFamily(available, declared, family, types.EncoderClassHardware); ok {
		return c, fmt.Sprintf("requested encoder %q unavailable, falling back to hardware %s encoder %q", requested, family, c.ID), nil
	}

	// 3. software variant within the same family.
	if c, ok := bestInFamily(available, declared, family, types.EncoderClassSoftware); ok {
		return c, fmt.Sprintf("requested encoder %q unavailable, falling back to software %s encoder %q", requested, family, c.ID), nil
	}

	// 4. MJPEG fallback, any class.
	if c, ok := bestInFamily(available, declared, "mjpeg", ""); ok {
		return c, fmt.Sprintf("requested encoder %q unavailable, no %s variant found, falling back to MJPEG encoder %q", requested, family, c.ID), nil
	}

	log.Warn().Str("requested", requested).Msg("providers: codec adaptation exhausted all fallback tiers")
	return types.VideoEncoderCapability{}, "", types.NoProviderAvailableError{Family: string(types.FamilyVideoEncoder), ID: requested}
}

func codecFamilyOf(requestedID string) string {
	if i := strings.IndexByte(requestedID, '_'); i > 0 {
		return requestedID[:i]
	}
	return requestedID
}

func bestInFamily(available []types.VideoEncoderCapability, declared map[string]bool, family string, class types.EncoderClass) (types.VideoEncoderCapability, bool) {
	var best types.VideoEncoderCapability
	found := false
	for _, c := range available {
		if c.CodecFamily != family {
			continue
		}
		if class != "" && c.Class != class {
			continue
		}
		if !declared[c.ID] {
			continue
		}
		if !found || c.Priority > best.Priority {
			best = c
			found = true
		}
	}
	return best, found
}
