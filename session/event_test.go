// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("state-changed", StateChanged.String())
	assert.Equal("access-token-expiring", AccessTokenExpiring.String())
	assert.Equal("unknown", EventType(42).String())
}

func TestSubscribers(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var subs subscribers
	var got []string
	unsubA := subs.add(func(Event) { got = append(got, "a") })
	subs.add(func(Event) { got = append(got, "b") })

	subs.notify(Event{Type: StateChanged, State: Unauthenticated{}})
	assert.Equal([]string{"a", "b"}, got)

	unsubA()
	unsubA()
	got = nil
	subs.notify(Event{Type: StateChanged, State: Unauthenticated{}})
	assert.Equal([]string{"b"}, got)

	subs.clear()
	got = nil
	subs.notify(Event{Type: StateChanged, State: Unauthenticated{}})
	assert.Empty(got)
}

func TestStatuses(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	states := []State{Unauthenticated{}, Pending{}, Authenticated{}, Renewing{}, ErrorState{}}
	var got []Status
	for _, s := range states {
		got = append(got, s.Status())
	}
	assert.Equal(Statuses(), got)
}
