// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"sort"
	"strings"

	"github.com/ksyq12/agent-watch/internal/event"
)

// Summary aggregates per-severity event counts for a session.
type Summary struct {
	Total    int `json:"total_events"`
	Critical int `json:"critical_count"`
	High     int `json:"high_count"`
	Medium   int `json:"medium_count"`
	Low      int `json:"low_count"`
}

// ChartPoint is one time bucket of event counts.
type ChartPoint struct {
	TimestampMS int64 `json:"timestamp_ms"`
	Total       int   `json:"total"`
	Critical    int   `json:"critical"`
	High        int   `json:"high"`
	Medium      int   `json:"medium"`
	Low         int   `json:"low"`
}

// Filter narrows a search. Zero values leave the dimension
// unconstrained.
type Filter struct {
	// Query is matched case-insensitively against command, arguments,
	// file path and host. Process and session events never text-match.
	Query string
	// Type restricts to one event type.
	Type event.Type
	// Risk restricts to exactly this level.
	Risk *event.RiskLevel
	// StartMS and EndMS bound the timestamp in Unix milliseconds.
	StartMS *int64
	EndMS   *int64
}

// Paginate returns the page of events at offset, at most limit long.
func Paginate(events []event.Event, offset, limit int) []event.Event {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(events) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(events) {
		end = len(events)
	}
	return events[offset:end]
}

// Summarize counts events per severity.
func Summarize(events []event.Event) Summary {
	s := Summary{Total: len(events)}
	for _, e := range events {
		switch e.RiskLevel {
		case event.Critical:
			s.Critical++
		case event.High:
			s.High++
		case event.Medium:
			s.Medium++
		default:
			s.Low++
		}
	}
	return s
}

// Chart buckets events by time, ascending. A non-positive bucket size
// defaults to 60 minutes.
func Chart(events []event.Event, bucketMinutes int) []ChartPoint {
	if bucketMinutes <= 0 {
		bucketMinutes = 60
	}
	bucketMS := int64(bucketMinutes) * 60 * 1000

	if len(events) == 0 {
		return nil
	}

	buckets := make(map[int64]*ChartPoint)
	for _, e := range events {
		key := (e.Timestamp.UnixMilli() / bucketMS) * bucketMS
		point, ok := buckets[key]
		if !ok {
			point = &ChartPoint{TimestampMS: key}
			buckets[key] = point
		}
		point.Total++
		switch e.RiskLevel {
		case event.Critical:
			point.Critical++
		case event.High:
			point.High++
		case event.Medium:
			point.Medium++
		default:
			point.Low++
		}
	}

	points := make([]ChartPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].TimestampMS < points[j].TimestampMS
	})
	return points
}

// Search filters events, preserving order.
func Search(events []event.Event, f Filter) []event.Event {
	query := strings.ToLower(f.Query)

	var out []event.Event
	for _, e := range events {
		if !matchesFilter(e, f, query) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Latest returns events past sinceIndex, used by pollers that remember
// how many events they already consumed.
func Latest(events []event.Event, sinceIndex int) []event.Event {
	if sinceIndex < 0 {
		sinceIndex = 0
	}
	if sinceIndex >= len(events) {
		return nil
	}
	return events[sinceIndex:]
}

func matchesFilter(e event.Event, f Filter, query string) bool {
	ts := e.Timestamp.UnixMilli()
	if f.StartMS != nil && ts < *f.StartMS {
		return false
	}
	if f.EndMS != nil && ts > *f.EndMS {
		return false
	}
	if f.Risk != nil && e.RiskLevel != *f.Risk {
		return false
	}

	// Unknown type filters are ignored rather than matching nothing.
	switch f.Type {
	case event.TypeCommand, event.TypeFileAccess, event.TypeNetwork, event.TypeProcess:
		if e.Type != f.Type {
			return false
		}
	}

	if query == "" {
		return true
	}
	switch e.Type {
	case event.TypeCommand:
		if strings.Contains(strings.ToLower(e.Command), query) {
			return true
		}
		for _, a := range e.Args {
			if strings.Contains(strings.ToLower(a), query) {
				return true
			}
		}
		return false
	case event.TypeFileAccess:
		return strings.Contains(strings.ToLower(e.Path), query)
	case event.TypeNetwork:
		return strings.Contains(strings.ToLower(e.Host), query)
	default:
		return false
	}
}
