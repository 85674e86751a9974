package daemonctl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderedEvent(id int64, message string) string {
	return fmt.Sprintf(`<Event xmlns='http://schemas.microsoft.com/win/2004/08/events/event'>
  <System>
    <Provider Name='Multipass'/>
    <EventID Qualifiers='0'>0</EventID>
    <EventRecordID>%d</EventRecordID>
    <Channel>Application</Channel>
  </System>
  <EventData><Data>%s</Data></EventData>
  <RenderingInfo Culture='en-US'><Message>%s</Message></RenderingInfo>
</Event>`, id, message, message)
}

func renderedEvents(events ...string) string {
	return "<Events>" + strings.Join(events, "\n") + "</Events>"
}

func TestParseRenderedEvents(t *testing.T) {
	events, err := parseRenderedEvents(renderedEvents(
		renderedEvent(10, "[info] [daemon] Starting Multipass 1.15.0"),
		`<Event xmlns='http://schemas.microsoft.com/win/2004/08/events/event'><System><Provider Name='Multipass'/><EventRecordID>11</EventRecordID></System><EventData><Data>raw</Data><Data>data</Data></EventData></Event>`,
	))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(10), events[0].RecordID)
	assert.Equal(t, "Multipass", events[0].Provider)
	assert.Equal(t, "[info] [daemon] Starting Multipass 1.15.0", events[0].Text())
	assert.Equal(t, "raw data", events[1].Text())

	events, err = parseRenderedEvents("  \r\n")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = parseRenderedEvents("<Events><Event>")
	require.Error(t, err)
}

// fakeEventLog serves a growing event log to followEvents
type fakeEventLog struct {
	mu     sync.Mutex
	events []string
	ids    []int64
}

func (l *fakeEventLog) append(id int64, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, renderedEvent(id, message))
	l.ids = append(l.ids, id)
}

func (l *fakeEventLog) query(_ context.Context, after int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if after < 0 {
		if len(l.events) == 0 {
			return "", nil
		}
		return renderedEvents(l.events[len(l.events)-1]), nil
	}
	var matched []string
	for i, id := range l.ids {
		if id > after {
			matched = append(matched, l.events[i])
		}
	}
	return renderedEvents(matched...), nil
}

func TestFollowEventsOnlyNewEvents(t *testing.T) {
	log := &fakeEventLog{}
	log.append(1, "old line")
	log.append(2, "older daemon run")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines, err := followEvents(ctx, 5*time.Millisecond, log.query)
	require.NoError(t, err)

	log.append(3, "first new\r\nsecond new")
	log.append(4, "third new")

	var got []string
	for len(got) < 3 {
		select {
		case line := <-lines:
			got = append(got, line)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %q", got)
		}
	}
	assert.Equal(t, []string{"first new", "second new", "third new"}, got)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-lines
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestServiceExit(t *testing.T) {
	assert.Equal(t, ExitedWith(42), serviceExit(errorServiceSpecificError, 42))
	assert.Equal(t, ExitedWith(0), serviceExit(0, 7))
	assert.Equal(t, ExitedWith(1067), serviceExit(1067, 0))
}
