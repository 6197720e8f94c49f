// internal/pipeline/extract.go
package pipeline

import (
	"strings"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

// Segment field positions used during extraction (HL7 v2 numbering; the
// BT-1500 codec emits the same OBX shape).
//
//	PID-3  patient identifier
//	ORC-2  placer order number
//	OBR-3  filler order number   OBR-4 universal service id
//	OBX-3  observation id (code^name)  OBX-5 value  OBX-6 units
//	OBX-7  reference range  OBX-8 abnormal flags  OBX-11 status
//	OBX-14 observation date/time
const obsTimeLayout = "20060102150405"

// Extract maps a canonical message onto the structured payload handed to
// storage. A result message without a single observation is permanently
// malformed: retrying cannot repair clinical content.
func Extract(msg *protocol.Message) (*protocol.ResultSet, error) {
	rs := &protocol.ResultSet{
		MessageType: msg.Type,
		ControlID:   msg.ControlID,
		DeviceID:    msg.DeviceID,
		Provenance:  msg.Provenance,
		ReceivedAt:  msg.ReceivedAt,
	}

	if pid, ok := msg.Segment("PID"); ok {
		rs.PatientID = firstComponent(pid.Field(3))
	}
	if orc, ok := msg.Segment("ORC"); ok {
		rs.OrderID = firstComponent(orc.Field(2))
	}
	if obr, ok := msg.Segment("OBR"); ok {
		if rs.OrderID == "" {
			rs.OrderID = firstComponent(obr.Field(3))
		}
		rs.TestCode = firstComponent(obr.Field(4))
	}

	for _, obx := range msg.SegmentsOf("OBX") {
		code, name, _ := strings.Cut(obx.Field(3), "^")
		obs := protocol.Observation{
			TestCode:       code,
			TestName:       name,
			Value:          obx.Field(5),
			Unit:           obx.Field(6),
			ReferenceRange: obx.Field(7),
			AbnormalFlag:   obx.Field(8),
			Status:         obx.Field(11),
		}
		if ts, err := time.Parse(obsTimeLayout, obx.Field(14)); err == nil {
			obs.ObservedAt = ts
		} else {
			obs.ObservedAt = msg.ReceivedAt
		}
		rs.Observations = append(rs.Observations, obs)
	}

	if msg.Type == protocol.TypeResult && len(rs.Observations) == 0 {
		return nil, protocol.Permanent(protocol.Malformed("result message carries no observations"))
	}
	return rs, nil
}

func firstComponent(field string) string {
	head, _, _ := strings.Cut(field, "^")
	return head
}
