package queue

import (
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	HeaderAttempt    = "x-attempt"
	HeaderNotBefore  = "x-not-before"
	HeaderError      = "x-error"
	HeaderReceivedAt = "x-received-at"
	HeaderEventID    = "x-event-id"
	HeaderOrigin     = "x-origin"
)

func header(msg kafkago.Message, key string) (string, bool) {
	for i := len(msg.Headers) - 1; i >= 0; i-- {
		if msg.Headers[i].Key == key {
			return string(msg.Headers[i].Value), true
		}
	}
	return "", false
}

// withHeader returns a copy of hs with key set to value.
func withHeader(hs []kafkago.Header, key, value string) []kafkago.Header {
	out := make([]kafkago.Header, 0, len(hs)+1)
	for _, h := range hs {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafkago.Header{Key: key, Value: []byte(value)})
}

// Attempt is the 1-based delivery attempt of msg.
func Attempt(msg kafkago.Message) int {
	v, ok := header(msg, HeaderAttempt)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NotBefore is the earliest time msg may be handled; zero if unset.
func NotBefore(msg kafkago.Message) time.Time {
	v, ok := header(msg, HeaderNotBefore)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReceivedAt is when the webhook reached the ingestor; zero if unset.
func ReceivedAt(msg kafkago.Message) time.Time {
	v, ok := header(msg, HeaderReceivedAt)
	if !ok {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}
