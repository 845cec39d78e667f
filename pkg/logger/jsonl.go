package logger

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"mavwatch/pkg/link"
)

// JSONLWriter writes one JSON object per link event.
type JSONLWriter struct {
	enc *json.Encoder
}

type jsonRecord struct {
	TS              string `json:"ts"`
	Event           string `json:"event"`
	SystemID        *uint8 `json:"system_id,omitempty"`
	ComponentID     *uint8 `json:"component_id,omitempty"`
	VehicleType     string `json:"vehicle_type,omitempty"`
	VehicleTypeCode *uint8 `json:"vehicle_type_code,omitempty"`
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

func (j *JSONLWriter) Write(ev link.Event) error {
	rec := jsonRecord{
		TS:    ev.Time.UTC().Format(time.RFC3339Nano),
		Event: string(ev.Kind),
	}
	if ev.HasIdentity {
		sys, comp, typ := ev.Identity.SystemID, ev.Identity.ComponentID, ev.Identity.VehicleType
		rec.SystemID = &sys
		rec.ComponentID = &comp
		rec.VehicleTypeCode = &typ
		rec.VehicleType = ev.Identity.VehicleTypeName()
	}
	return j.enc.Encode(rec)
}

// Consume writes events from in until it is closed or ctx ends. Write errors
// are dropped; the stream is best effort.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan link.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			_ = j.Write(ev)
		}
	}
}
