package engine

import (
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/isometry/ldap-authd/internal/request"
	"github.com/isometry/ldap-authd/internal/xlat"
)

// expandedEntry is one attribute map entry with its destination name already
// expanded for the current request.
type expandedEntry struct {
	name string
	list PairList
	op   request.Op
	attr string
}

// expandedMap is the per-request projection of the configured attribute map:
// the directory attributes to request plus the translation entries. Built
// once per authorization and discarded with the request.
type expandedMap struct {
	attrs   []string
	entries []expandedEntry
}

// expandMap builds the request's expanded attribute map. Destination names
// may be templates; an expansion failure fails the build.
func (e *Engine) expandMap(req *request.Request) (*expandedMap, error) {
	em := &expandedMap{
		attrs:   make([]string, 0, len(e.cfg.Map)+3),
		entries: make([]expandedEntry, 0, len(e.cfg.Map)),
	}
	for _, m := range e.cfg.Map {
		name := m.Name
		if xlat.ContainsRef(name) {
			expanded, err := xlat.Expand(name, req)
			if err != nil {
				return nil, err
			}
			name = expanded
		}

		op := request.OpAdd
		if m.Op == "set" {
			op = request.OpSet
		}

		em.entries = append(em.entries, expandedEntry{
			name: name,
			list: m.List,
			op:   op,
			attr: m.Attr,
		})
		em.attrs = append(em.attrs, m.Attr)
	}
	return em, nil
}

// mapAttributes translates an entry's directory attributes into internal
// attribute-value pairs per the expanded map. Entries whose source attribute
// is absent are skipped. Multi-valued attributes produce one pair per value
// in directory return order; a "set" operator replaces on the first value
// and appends the rest. Mapping is a pure function of (entry, map, request)
// so re-running it appends the same pairs again.
func (e *Engine) mapAttributes(req *request.Request, entry *ldap.Entry, em *expandedMap) {
	for _, me := range em.entries {
		if me.name == "" {
			continue
		}
		raws := entry.GetRawAttributeValues(me.attr)
		if len(raws) == 0 {
			continue
		}
		for i, raw := range raws {
			value := normalizeAttrValue(me.attr, raw)
			op := me.op
			if op == request.OpSet && i > 0 {
				op = request.OpAdd
			}
			if me.list == ListCheck {
				req.AddCheck(me.name, value, op)
			} else {
				req.AddReply(me.name, value, op)
			}
		}
	}
}

// normalizeAttrValue renders binary directory values in their conventional
// string form. Active Directory returns objectSid and objectGUID as raw
// bytes; everything else passes through untouched.
func normalizeAttrValue(attr string, raw []byte) string {
	switch {
	case strings.EqualFold(attr, "objectSid"):
		if s, ok := decodeSID(raw); ok {
			return s
		}
	case strings.EqualFold(attr, "objectGUID"):
		if s, ok := decodeGUID(raw); ok {
			return s
		}
	}
	return string(raw)
}

// decodeSID converts a binary security identifier to S-1-... form.
func decodeSID(raw []byte) (string, bool) {
	if len(raw) < 8 || len(raw) < 8+4*int(raw[1]) {
		return "", false
	}
	return objectsid.Decode(raw).String(), true
}

// decodeGUID converts an Active Directory GUID to hyphenated form. The
// directory stores the first three fields little-endian, so they are
// reordered before standard formatting.
func decodeGUID(raw []byte) (string, bool) {
	if len(raw) != 16 {
		return "", false
	}
	var b [16]byte
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]
	copy(b[8:], raw[8:])

	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return "", false
	}
	return u.String(), true
}
