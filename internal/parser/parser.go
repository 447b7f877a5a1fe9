// Package parser implements the steam inspect link grammar from spec §6:
// the gateway's HTTP handler is a thin adapter over this package.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cs2inspect/gateway/internal/domain"
)

// linkPattern matches either the S-form (owner-held asset) or the M-form
// (market listing) of the "csgo_econ_action_preview" inspect link, after
// percent-decoding. A percent-encoded leading space before S/M is decoded
// back into a space; the S/M part must follow whitespace or start the
// string (the bare suffix form).
var linkPattern = regexp.MustCompile(`(?:^|\s)(?:S(\d+)A(\d+)D(\d+)|M(\d+)A(\d+)D(\d+))$`)

// ParseLink parses a "steam://rungame/730/{steamId}/+csgo_econ_action_preview
// ..." style link (or the bare "S{owner}A{asset}D{proof}" /
// "M{market}A{asset}D{proof}" suffix) into a descriptor. Owner/MarketID are
// mutually exclusive per the grammar itself.
func ParseLink(raw string) (domain.InspectDescriptor, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}

	m := linkPattern.FindStringSubmatch(decoded)
	if m == nil {
		return domain.InspectDescriptor{}, fmt.Errorf("%w: link does not match inspect grammar", domain.ErrBadDescriptor)
	}

	var d domain.InspectDescriptor
	if m[1] != "" {
		d.Owner, err = strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return domain.InspectDescriptor{}, fmt.Errorf("%w: %v", domain.ErrBadDescriptor, err)
		}
		d.AssetID, err = strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return domain.InspectDescriptor{}, fmt.Errorf("%w: %v", domain.ErrBadDescriptor, err)
		}
		d.Proof, err = strconv.ParseUint(m[3], 10, 64)
		if err != nil {
			return domain.InspectDescriptor{}, fmt.Errorf("%w: %v", domain.ErrBadDescriptor, err)
		}
	} else {
		d.MarketID, err = strconv.ParseUint(m[4], 10, 64)
		if err != nil {
			return domain.InspectDescriptor{}, fmt.Errorf("%w: %v", domain.ErrBadDescriptor, err)
		}
		d.AssetID, err = strconv.ParseUint(m[5], 10, 64)
		if err != nil {
			return domain.InspectDescriptor{}, fmt.Errorf("%w: %v", domain.ErrBadDescriptor, err)
		}
		d.Proof, err = strconv.ParseUint(m[6], 10, 64)
		if err != nil {
			return domain.InspectDescriptor{}, fmt.Errorf("%w: %v", domain.ErrBadDescriptor, err)
		}
	}

	if err := d.Validate(); err != nil {
		return domain.InspectDescriptor{}, err
	}
	return d, nil
}

// ParseQuery builds a descriptor from either a raw "url" query param
// (delegated to ParseLink) or the explicit s/a/d/m numeric params, plus the
// refresh/reply/lowPriority flags.
func ParseQuery(values url.Values) (domain.InspectDescriptor, error) {
	var d domain.InspectDescriptor
	var err error

	if link := values.Get("url"); link != "" {
		d, err = ParseLink(link)
		if err != nil {
			return domain.InspectDescriptor{}, err
		}
	} else {
		d, err = parseNumericParams(values)
		if err != nil {
			return domain.InspectDescriptor{}, err
		}
	}

	d.Refresh = parseBool(values.Get("refresh"))
	d.Reply = values.Get("reply") == "" || parseBool(values.Get("reply"))
	d.LowPriority = parseBool(values.Get("lowPriority"))

	return d, nil
}

func parseNumericParams(values url.Values) (domain.InspectDescriptor, error) {
	var d domain.InspectDescriptor

	parse := func(key string) (uint64, error) {
		v := values.Get(key)
		if v == "" {
			return 0, nil
		}
		return strconv.ParseUint(v, 10, 64)
	}

	var err error
	if d.Owner, err = parse("s"); err != nil {
		return domain.InspectDescriptor{}, fmt.Errorf("%w: bad s: %v", domain.ErrBadDescriptor, err)
	}
	if d.AssetID, err = parse("a"); err != nil {
		return domain.InspectDescriptor{}, fmt.Errorf("%w: bad a: %v", domain.ErrBadDescriptor, err)
	}
	if d.Proof, err = parse("d"); err != nil {
		return domain.InspectDescriptor{}, fmt.Errorf("%w: bad d: %v", domain.ErrBadDescriptor, err)
	}
	if d.MarketID, err = parse("m"); err != nil {
		return domain.InspectDescriptor{}, fmt.Errorf("%w: bad m: %v", domain.ErrBadDescriptor, err)
	}

	if err := d.Validate(); err != nil {
		return domain.InspectDescriptor{}, err
	}
	return d, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// FormatLink renders a descriptor back into its canonical inspect-link
// suffix form, the inverse of ParseLink — round-tripping through ParseLink
// must reproduce the same descriptor's S/M/A/D fields (spec §8).
func FormatLink(d domain.InspectDescriptor) string {
	if d.IsMarketItem() {
		return fmt.Sprintf(" M%dA%dD%d", d.MarketID, d.AssetID, d.Proof)
	}
	return fmt.Sprintf(" S%dA%dD%d", d.Owner, d.AssetID, d.Proof)
}
