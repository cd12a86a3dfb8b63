package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/siid-ide/update-agent/pkg/api"
)

// vendorUpdate is the vendor update server's JSON reply.
type vendorUpdate struct {
	URL                string `json:"url"`
	SupplementalURL    string `json:"supplementalUrl"`
	Version            string `json:"version"`
	ProductVersion     string `json:"productVersion"`
	SHA256Hash         string `json:"sha256hash"`
	Timestamp          int64  `json:"timestamp"`
	SupportsFastUpdate bool   `json:"supportsFastUpdate"`
}

// ParseVendorFeed decodes a vendor feed body into an update descriptor.
// An empty body means the server had nothing to offer and yields nil.
// A reply without a version is not an update either.
func ParseVendorFeed(data []byte) (*api.UpdateDescriptor, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var v vendorUpdate
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding vendor feed: %w", err)
	}

	if v.Version == "" {
		return nil, nil
	}

	productVersion := v.ProductVersion
	if productVersion == "" {
		productVersion = strings.TrimPrefix(v.Version, "v")
	}

	return &api.UpdateDescriptor{
		Version:            v.Version,
		ProductVersion:     productVersion,
		Timestamp:          v.Timestamp,
		URL:                v.URL,
		SupplementalURL:    v.SupplementalURL,
		SHA256Hash:         stripDigestPrefix(v.SHA256Hash),
		SupportsFastUpdate: v.SupportsFastUpdate,
	}, nil
}
