package manifest

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// targetDocument is the TCS target description MODIFY's targetXML argument
// carries (§4.4): a single <target> element naming a coordinate system and
// either RA/Dec, Az/El, or a "current"/"following" marker, in the same
// tagged-struct style as the entry-manifest document above.
type targetDocument struct {
	XMLName     xml.Name `xml:"target"`
	System      string   `xml:"system,attr"`
	Name        string   `xml:"name,attr"`
	RA          float64  `xml:"ra,attr"`
	Dec         float64  `xml:"dec,attr"`
	Az          float64  `xml:"az,attr"`
	El          float64  `xml:"el,attr"`
	Epoch       string   `xml:"epoch,attr"`
	UseNow      bool     `xml:"useNow,attr"`
	CurrentAz   bool     `xml:"currentAz,attr"`
	FollowingAz bool     `xml:"followingAz,attr"`
}

// ParseTargetXML parses a TCS target description into a queue.Target.
// MODIFY overwrites every tag on the entry with the result (§4.4) — there
// is no partial-update form.
func ParseTargetXML(r io.Reader) (queue.Target, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return queue.Target{}, fmt.Errorf("manifest: read target xml: %w", err)
	}

	var doc targetDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return queue.Target{}, fmt.Errorf("manifest: parse target xml: %w", err)
	}

	system := strings.TrimSpace(doc.System)
	if system == "" && !doc.CurrentAz && !doc.FollowingAz {
		return queue.Target{}, fmt.Errorf("manifest: target xml has no system attribute")
	}

	return queue.Target{
		System:      system,
		Name:        doc.Name,
		RA:          doc.RA,
		Dec:         doc.Dec,
		Az:          doc.Az,
		El:          doc.El,
		Epoch:       doc.Epoch,
		UseNow:      doc.UseNow,
		CurrentAz:   doc.CurrentAz,
		FollowingAz: doc.FollowingAz,
	}, nil
}

// ParseTargetXMLString is a convenience wrapper for callers holding the
// targetXML argument as a string (the command-server RPC payload shape,
// §4.4's MODIFY).
func ParseTargetXMLString(s string) (queue.Target, error) {
	return ParseTargetXML(strings.NewReader(s))
}
