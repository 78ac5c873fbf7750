package requests

import "strings"

// contactEmail is where a user hears about a request. Requesters are
// reached at the address they gave when placing it.
func contactEmail(u *User, rq *Request) string {
	if u == nil {
		return ""
	}
	if rq != nil && u.ID == rq.RequesterID && rq.PreferredEmail != "" {
		return rq.PreferredEmail
	}
	return u.Email
}

// Recipients decides who hears about an update made by actor.
//
// The requester's updates go to the shipper, or to the lab when nobody has
// volunteered. The shipper's updates go to the requester. Anyone else's go
// to the requester and to the shipper or the lab.
func Recipients(actor, requester, shipper *User, rq *Request, labEmails []string) []string {
	var out []string
	isRequester := actor != nil && requester != nil && actor.ID == requester.ID
	isShipper := actor != nil && shipper != nil && actor.ID == shipper.ID
	if isRequester {
		if shipper != nil {
			out = append(out, contactEmail(shipper, rq))
		} else {
			out = append(out, labEmails...)
		}
	}
	if isShipper {
		out = append(out, contactEmail(requester, rq))
	}
	if !isRequester && !isShipper {
		out = append(out, contactEmail(requester, rq))
		if shipper != nil {
			out = append(out, contactEmail(shipper, rq))
		} else {
			out = append(out, labEmails...)
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
