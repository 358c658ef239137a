package parking

// EventPayload is the inbound camera notification. The camera is identified either by
// parking_area ("<location code><camera api code>", e.g. "DXB01") or by camera_id.
type EventPayload struct {
	ParkingArea string      `json:"parking_area"`
	CameraID    *int64      `json:"camera_id,omitempty"`
	IndexNumber *int        `json:"index_number"`
	Occupancy   interface{} `json:"occupancy"`
	Time        string      `json:"time"`
	Snapshot    string      `json:"snapshot,omitempty"`
}

// Raw is the payload as stored on the event log, without the image bytes.
func (p EventPayload) Raw() map[string]interface{} {
	raw := map[string]interface{}{
		"parking_area": p.ParkingArea,
		"occupancy":    p.Occupancy,
		"time":         p.Time,
		"has_snapshot": p.Snapshot != "",
	}
	if p.CameraID != nil {
		raw["camera_id"] = *p.CameraID
	}
	if p.IndexNumber != nil {
		raw["index_number"] = *p.IndexNumber
	}
	return raw
}
