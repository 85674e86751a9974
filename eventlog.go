package daemonctl

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// eventRecord is the part of a rendered Windows event the follower needs
type eventRecord struct {
	RecordID int64    `xml:"System>EventRecordID"`
	Provider string   `xml:"System>Provider>Name,attr"`
	Message  string   `xml:"RenderingInfo>Message"`
	Data     []string `xml:"EventData>Data"`
}

// Text returns the rendered message, or the raw event data when the
// provider's message table is not available
func (e eventRecord) Text() string {
	msg := e.Message
	if msg == "" {
		msg = strings.Join(e.Data, " ")
	}
	return strings.ReplaceAll(msg, "\r\n", "\n")
}

type eventBatch struct {
	Events []eventRecord `xml:"Event"`
}

// parseRenderedEvents parses `wevtutil qe ... /f:RenderedXml /e:Events` output
func parseRenderedEvents(out string) ([]eventRecord, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	var batch eventBatch
	if err := xml.Unmarshal([]byte(out), &batch); err != nil {
		return nil, fmt.Errorf("parsing event log query: %w", err)
	}
	return batch.Events, nil
}

// eventQuery returns rendered events with a record id greater than after.
// A negative after asks for the newest event only.
type eventQuery func(ctx context.Context, after int64) (string, error)

// followEvents polls query and streams the text of every new event, in
// record order. Only events logged after the call are delivered.
func followEvents(ctx context.Context, interval time.Duration, query eventQuery) (<-chan string, error) {
	var last int64
	out, err := query(ctx, -1)
	if err != nil {
		return nil, err
	}
	newest, err := parseRenderedEvents(out)
	if err != nil {
		return nil, err
	}
	for _, ev := range newest {
		last = max(last, ev.RecordID)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			out, err := query(ctx, last)
			if err != nil {
				continue
			}
			events, err := parseRenderedEvents(out)
			if err != nil {
				continue
			}
			for _, ev := range events {
				if ev.RecordID <= last {
					continue
				}
				last = ev.RecordID
				for _, line := range strings.Split(ev.Text(), "\n") {
					select {
					case lines <- line:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return lines, nil
}

// wevtutilQuery builds the eventQuery for one provider on one channel
func wevtutilQuery(priv PrivilegeTool, channel, provider string, timeout time.Duration) eventQuery {
	return func(ctx context.Context, after int64) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		args := []string{"wevtutil", "qe", channel, "/f:RenderedXml", "/e:Events"}
		if after < 0 {
			args = append(args,
				fmt.Sprintf("/q:*[System[Provider[@Name='%s']]]", provider),
				"/c:1", "/rd:true")
		} else {
			args = append(args,
				fmt.Sprintf("/q:*[System[Provider[@Name='%s'] and (EventRecordID > %d)]]", provider, after))
		}
		return runChecked(ctx, "wevtutil qe", provider, priv.Wrap(args...)...)
	}
}
