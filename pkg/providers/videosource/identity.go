package videosource

import "github.com/aeroward/skylink/pkg/types"

// FindByIdentity matches a capability list against a DeviceIdentity the
// way app/providers/base/video_source_provider.py's
// find_source_by_identity does: an exact match on card name plus any
// non-empty bus_info/driver fields wins outright; a card-name-only
// match is remembered and returned if no exact match is found. This
// lets a pipeline spec reference "the HDMI capture card" independent
// of which /dev/videoN path it enumerates as after a reboot.
func FindByIdentity(candidates []types.VideoSourceCapability, want types.DeviceIdentity) (string, bool) {
	var nameMatch string
	haveNameMatch := false

	for _, c := range candidates {
		if c.Identity.CardName != want.CardName {
			continue
		}
		busOK := want.BusInfo == "" || c.Identity.BusInfo == want.BusInfo
		driverOK := want.Driver == "" || c.Identity.Driver == want.Driver
		if busOK && driverOK {
			return c.ID, true
		}
		if !haveNameMatch {
			nameMatch = c.ID
			haveNameMatch = true
		}
	}
	return nameMatch, haveNameMatch
}
