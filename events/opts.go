package events

import "errors"

// defaultBufSize is the channel buffer a subscription gets unless
// BufSize says otherwise.
const defaultBufSize = 16

type subSettings struct {
	buffer  int
	matches []fieldMatch
}

type fieldMatch struct {
	field string
	value string
}

// BufSize sets the size of the subscription's channel buffer.
func BufSize(n int) SubscriptionOpt {
	return func(s *subSettings) error {
		if n < 0 {
			return errors.New("negative subscription buffer")
		}
		s.buffer = n
		return nil
	}
}

// MatchFieldValue filters out any events where the named field does
// not print as value. It may be used more than once to match on several
// fields.
func MatchFieldValue(field, value string) SubscriptionOpt {
	return func(s *subSettings) error {
		s.matches = append(s.matches, fieldMatch{field: field, value: value})
		return nil
	}
}
